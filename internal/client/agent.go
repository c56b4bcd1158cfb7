package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/retroboard/retroboard/internal/protocol"
)

// State tracks the agent's connection lifecycle.
type State int32

const (
	// StateIdle is the zero state before Connect.
	StateIdle State = iota
	// StateConnected means the transport is up but join has not
	// completed yet.
	StateConnected
	// StateActive means the join handshake succeeded and events flow.
	StateActive
	// StateClosed is terminal: logout, fatal reconnect failure, or
	// an explicit Close.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrJoinRejected is returned when the server refuses the join
	// handshake, typically over a name or color conflict. The agent
	// does not retry a rejected join.
	ErrJoinRejected = errors.New("join rejected")

	// ErrReconnectFailed is the terminal error after the reconnect
	// attempt ceiling is exhausted.
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")

	// ErrClosed is returned from intents issued after the agent shut
	// down.
	ErrClosed = errors.New("agent closed")
)

const (
	defaultMaxAttempts  = 5
	defaultRetryDelay   = 3 * time.Second
	defaultPingInterval = 30 * time.Second
	handshakeTimeout    = 10 * time.Second
)

// Options configures an Agent.
type Options struct {
	// URL is the ws:// or wss:// endpoint of the board.
	URL string
	// Username and Color form the join handshake, replayed on every
	// reconnect.
	Username string
	Color    string

	// MaxAttempts bounds reconnection after a transport drop.
	// Defaults to 5.
	MaxAttempts int
	// RetryDelay is the fixed pause between attempts. Defaults to 3s.
	RetryDelay time.Duration
	// PingInterval drives the keepalive ticker. Defaults to 30s.
	PingInterval time.Duration

	// Dialer overrides the default gorilla dialer, mainly for tests.
	Dialer *websocket.Dialer

	// OnEvent, when set, observes every applied server message.
	OnEvent func(protocol.Message)

	Logger *slog.Logger
}

// Agent owns one client connection to a board. It dials, joins,
// mirrors the event stream, and transparently reconnects with a
// bounded retry policy. An intentional logout closes the agent for
// good; the server signals it with a normal close frame carrying the
// logout reason, and the agent honors the same rule after a
// self-initiated logout.
type Agent struct {
	opts   Options
	mirror *Mirror
	logger *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	state       atomic.Int32
	intentional atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
	err      error
	errMu    sync.Mutex
}

// New builds an agent. Connect must be called before any intent.
func New(opts Options) *Agent {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Agent{
		opts:   opts,
		mirror: NewMirror(),
		logger: opts.Logger.With("component", "client", "username", opts.Username),
		done:   make(chan struct{}),
	}
}

// Mirror exposes the local board copy.
func (a *Agent) Mirror() *Mirror { return a.mirror }

// State reports the current lifecycle state.
func (a *Agent) State() State { return State(a.state.Load()) }

// Done is closed when the agent stops permanently.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Err returns the terminal error, if any, once Done is closed.
func (a *Agent) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// Connect dials the board and performs the join handshake. On success
// the read loop and keepalive ticker run in the background until the
// agent is closed. A join rejection is returned as ErrJoinRejected and
// is not retried.
func (a *Agent) Connect(ctx context.Context) error {
	conn, err := a.dialAndJoin(ctx)
	if err != nil {
		a.fail(err)
		return err
	}
	a.setConn(conn)
	a.state.Store(int32(StateActive))

	go a.readLoop(conn)
	go a.keepalive()
	return nil
}

// dialAndJoin establishes the transport and replays the join
// handshake: the server pushes an anonymous snapshot on connect, then
// answers the join with joinSuccess and a personalized snapshot, or an
// error message if the name or color is taken.
func (a *Agent) dialAndJoin(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := a.opts.Dialer.DialContext(ctx, a.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.opts.URL, err)
	}
	a.state.Store(int32(StateConnected))

	join := protocol.Must(protocol.TypeJoin, protocol.JoinPayload{
		Color:    a.opts.Color,
		Username: a.opts.Username,
	})
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join handshake: %w", err)
		}
		switch msg.Type {
		case protocol.TypeJoinSuccess:
			conn.SetReadDeadline(time.Time{})
			return conn, nil
		case protocol.TypeError:
			var reason string
			msg.DecodePayload(&reason)
			conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrJoinRejected, reason)
		default:
			a.apply(msg)
		}
	}
}

func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			a.handleDisconnect(err)
			return
		}
		a.apply(msg)
	}
}

func (a *Agent) apply(msg protocol.Message) {
	if err := a.mirror.Apply(msg); err != nil {
		a.logger.Warn("discarding malformed event", "type", msg.Type, "error", err)
		return
	}
	if a.opts.OnEvent != nil {
		a.opts.OnEvent(msg)
	}
}

// handleDisconnect decides between a clean stop and a reconnect. A
// normal close frame carrying the logout reason, or a self-initiated
// logout, never triggers reconnection.
func (a *Agent) handleDisconnect(err error) {
	if a.State() == StateClosed || a.intentional.Load() {
		a.finish(nil)
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) &&
		closeErr.Code == websocket.CloseNormalClosure &&
		closeErr.Text == protocol.CloseReasonLogout {
		a.logger.Info("server confirmed logout, not reconnecting")
		a.finish(nil)
		return
	}

	a.logger.Warn("connection lost, reconnecting", "error", err)
	a.reconnect()
}

func (a *Agent) reconnect() {
	a.state.Store(int32(StateConnected))
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		select {
		case <-a.done:
			return
		case <-time.After(a.opts.RetryDelay):
		}
		if a.intentional.Load() {
			a.finish(nil)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		conn, err := a.dialAndJoin(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, ErrJoinRejected) {
				a.fail(err)
				return
			}
			a.logger.Warn("reconnect attempt failed",
				"attempt", attempt, "max", a.opts.MaxAttempts, "error", err)
			continue
		}

		a.setConn(conn)
		a.state.Store(int32(StateActive))
		a.logger.Info("reconnected", "attempt", attempt)
		go a.readLoop(conn)
		return
	}

	a.logger.Error("giving up after repeated reconnect failures",
		"attempts", a.opts.MaxAttempts)
	a.fail(ErrReconnectFailed)
}

func (a *Agent) keepalive() {
	ticker := time.NewTicker(a.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.CheckHealth()
		}
	}
}

// CheckHealth probes the connection with a protocol ping. A write
// failure closes the transport, which routes the read loop into the
// reconnect path.
func (a *Agent) CheckHealth() error {
	if a.State() != StateActive {
		return fmt.Errorf("not active: %s", a.State())
	}
	if err := a.send(protocol.Must(protocol.TypePing, nil)); err != nil {
		a.closeConn()
		return err
	}
	return nil
}

// AddCard submits a new card. The server stamps author and color from
// the session, so only id, text and column matter here.
func (a *Agent) AddCard(id, text, column string) error {
	return a.send(protocol.Must(protocol.TypeAddCard, protocol.AddCardPayload{
		ID:     id,
		Text:   text,
		Column: column,
	}))
}

// DeleteCard requests removal of one of the caller's own cards.
func (a *Agent) DeleteCard(id string) error {
	return a.send(protocol.Must(protocol.TypeDeleteCard, protocol.DeleteCardPayload{
		ID: id,
	}))
}

// MoveCard relocates a card to another column.
func (a *Agent) MoveCard(id, newColumn string) error {
	return a.send(protocol.Must(protocol.TypeMoveCard, protocol.MoveCardPayload{
		ID:        id,
		NewColumn: newColumn,
	}))
}

// LikeCard sets or clears the caller's like on a card.
func (a *Agent) LikeCard(id string, liked bool) error {
	return a.send(protocol.Must(protocol.TypeLikeCard, protocol.LikeCardPayload{
		CardID: id,
		Liked:  liked,
	}))
}

// SortCards asks the server to sort every column by like count.
func (a *Agent) SortCards(order string) error {
	return a.send(protocol.Must(protocol.TypeSortCards, protocol.SortCardsPayload{
		SortOrder: order,
	}))
}

// ToggleHideContent flips the board-global content visibility.
func (a *Agent) ToggleHideContent(hidden bool) error {
	return a.send(protocol.Must(protocol.TypeToggleHideContent, hidden))
}

// Logout tells the server to release this session's name and color,
// then waits for the close frame. The agent will not reconnect.
func (a *Agent) Logout() error {
	a.intentional.Store(true)
	err := a.send(protocol.Must(protocol.TypeLogout, nil))
	a.state.Store(int32(StateClosed))
	return err
}

// Close tears down the transport without a logout, the way a killed
// browser tab would. The server releases resources on its side.
func (a *Agent) Close() {
	a.intentional.Store(true)
	a.state.Store(int32(StateClosed))
	a.closeConn()
	a.finish(nil)
}

func (a *Agent) send(msg protocol.Message) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil || a.State() == StateClosed {
		return ErrClosed
	}
	return a.conn.WriteJSON(msg)
}

func (a *Agent) setConn(conn *websocket.Conn) {
	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()
}

func (a *Agent) closeConn() {
	a.writeMu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.writeMu.Unlock()
}

func (a *Agent) fail(err error) {
	a.closeConn()
	a.finish(err)
}

func (a *Agent) finish(err error) {
	a.doneOnce.Do(func() {
		a.state.Store(int32(StateClosed))
		a.errMu.Lock()
		a.err = err
		a.errMu.Unlock()
		close(a.done)
	})
}
