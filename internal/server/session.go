// Package server implements the board's synchronization engine: the
// WebSocket session lifecycle, the session registry, the broadcast hub
// that fans authoritative events out to every connection, and the
// gateway that validates and dispatches inbound messages against the
// board state.
package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/retroboard/retroboard/internal/protocol"
)

// SessionState tracks where a connection is in its lifecycle.
type SessionState int32

const (
	// StateConnected: transport open, no identity yet.
	StateConnected SessionState = iota

	// StateJoining: a join is being validated.
	StateJoining

	// StateActive: joined, identity bound, liveness pings accepted.
	StateActive

	// StateClosed: transport gone and resources released.
	StateClosed
)

// String returns the state name for logs.
func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live WebSocket connection. Outbound traffic goes
// through the buffered send channel so a single writer goroutine owns
// the connection; identity fields are guarded by mu.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn *websocket.Conn
	send chan protocol.Message
	done chan struct{}

	closed  atomic.Bool // transport torn down
	cleaned atomic.Bool // identity/color release ran

	mu       sync.Mutex
	state    SessionState
	name     string
	color    string
	lastSeen time.Time

	logger *slog.Logger
}

func newSession(conn *websocket.Conn, sendBuffer int, logger *slog.Logger) *Session {
	id := uuid.NewString()
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		conn:      conn,
		send:      make(chan protocol.Message, sendBuffer),
		done:      make(chan struct{}),
		state:     StateConnected,
		lastSeen:  now,
		logger:    logger.With("connection_id", id),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Identity returns the bound display name and color. joined is true
// only once the join handshake has completed.
func (s *Session) Identity() (name, color string, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.color, s.state == StateActive
}

// bindIdentity records a successful join.
func (s *Session) bindIdentity(name, color string) {
	s.mu.Lock()
	s.name = name
	s.color = color
	s.state = StateActive
	s.mu.Unlock()
}

// Touch stamps liveness. Called for every inbound message; the server
// records it but never drops a session for going quiet (disconnect
// detection is transport-level).
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last inbound message.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Enqueue queues a message for delivery. It returns false if the
// session is closed or its buffer is full; the caller decides whether
// a full buffer is fatal (the hub drops such sessions).
func (s *Session) Enqueue(msg protocol.Message) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- msg:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Close tears the transport down. Safe to call from any goroutine and
// any number of times.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
}

// CloseWithReason sends a close frame with the given code and reason
// before tearing down. Used for the intentional "Logout" closure that
// tells the peer not to reconnect.
func (s *Session) CloseWithReason(code int, reason string, timeout time.Duration) {
	if s.closed.Load() {
		return
	}
	if s.conn != nil {
		deadline := time.Now().Add(timeout)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			s.logger.Debug("close frame write failed", "error", err)
		}
	}
	s.Close()
}
