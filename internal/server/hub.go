package server

import (
	"log/slog"
	"sync"

	"github.com/retroboard/retroboard/internal/protocol"
)

// outbound is one fan-out unit. Either msg is set (same bytes for
// everyone) or build is set and is called per session to produce a
// personalized message; build returning false skips the session.
type outbound struct {
	msg   protocol.Message
	build func(*Session) (protocol.Message, bool)
}

// Hub is the broadcast router. A single goroutine owns the session set
// and drains one broadcast channel, so every session observes events
// in exactly the order they were enqueued - and the gateway enqueues
// while it still holds its dispatch lock, so enqueue order is apply
// order. Fan-out is total: the originating session receives its own
// events like everyone else.
type Hub struct {
	register   chan *Session
	unregister chan *Session
	broadcast  chan outbound

	sessions map[*Session]struct{}

	done     chan struct{}
	stopOnce sync.Once

	metrics *Metrics
	logger  *slog.Logger
}

// broadcastBuffer bounds how far broadcast enqueue may run ahead of
// the hub goroutine. Enqueueing blocks once it is full, which is the
// only backpressure the gateway has.
const broadcastBuffer = 256

// NewHub creates a hub. Call Run in its own goroutine.
func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan outbound, broadcastBuffer),
		sessions:   make(map[*Session]struct{}),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger.With("component", "hub"),
	}
}

// Run is the hub's event loop. It exits after Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case sess := <-h.register:
			h.sessions[sess] = struct{}{}

		case sess := <-h.unregister:
			delete(h.sessions, sess)

		case out := <-h.broadcast:
			h.fanOut(out)

		case <-h.done:
			for sess := range h.sessions {
				sess.Close()
				delete(h.sessions, sess)
			}
			return
		}
	}
}

func (h *Hub) fanOut(out outbound) {
	delivered := 0
	for sess := range h.sessions {
		msg := out.msg
		if out.build != nil {
			var ok bool
			if msg, ok = out.build(sess); !ok {
				continue
			}
		}
		if !sess.Enqueue(msg) {
			// The session is gone or cannot keep up. Closing it here
			// is safe: its read loop will run the usual teardown, and
			// the client recovers missed events via a fresh snapshot
			// on rejoin.
			h.logger.Warn("dropping slow session", "connection_id", sess.ID)
			h.metrics.RecordSessionDropped()
			sess.Close()
			delete(h.sessions, sess)
			continue
		}
		delivered++
	}
	h.metrics.RecordBroadcast(delivered)
}

// Register adds a session to the fan-out set.
func (h *Hub) Register(sess *Session) {
	select {
	case h.register <- sess:
	case <-h.done:
	}
}

// Unregister removes a session from the fan-out set.
func (h *Hub) Unregister(sess *Session) {
	select {
	case h.unregister <- sess:
	case <-h.done:
	}
}

// Broadcast fans one message out to every connected session.
func (h *Hub) Broadcast(msg protocol.Message) {
	select {
	case h.broadcast <- outbound{msg: msg}:
	case <-h.done:
	}
}

// BroadcastEach fans out a per-session message built by build. Used
// for events whose payload is personalized, such as cardsSorted with
// the receiver's own like status.
func (h *Hub) BroadcastEach(build func(*Session) (protocol.Message, bool)) {
	select {
	case h.broadcast <- outbound{build: build}:
	case <-h.done:
	}
}

// Shutdown stops the hub and closes every registered session.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
}
