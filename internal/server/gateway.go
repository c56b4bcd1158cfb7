package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/retroboard/retroboard/internal/board"
	"github.com/retroboard/retroboard/internal/protocol"
)

// closeWriteTimeout bounds the close-frame write on logout.
const closeWriteTimeout = 5 * time.Second

// Gateway validates inbound client messages and applies them to the
// authoritative state. Its mutex is the board's serialization point:
// every mutating dispatch holds it from validation through broadcast
// enqueue, so operations never interleave and the hub's FIFO order
// equals the order mutations were applied.
type Gateway struct {
	mu sync.Mutex

	store    *board.Store
	colors   *board.ColorRegistry
	sessions *SessionManager
	hub      *Hub

	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewGateway wires the gateway to the state owners it dispatches into.
func NewGateway(store *board.Store, colors *board.ColorRegistry, sessions *SessionManager, hub *Hub, metrics *Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{
		store:    store,
		colors:   colors,
		sessions: sessions,
		hub:      hub,
		metrics:  metrics,
		tracer:   otel.Tracer("retroboard/gateway"),
		logger:   logger.With("component", "gateway"),
	}
}

// Dispatch routes one inbound message. Errors are reported to the
// requesting session only; they are never broadcast and never leave
// the store partially mutated.
func (g *Gateway) Dispatch(ctx context.Context, sess *Session, msg protocol.Message) {
	sess.Touch()

	_, span := g.tracer.Start(ctx, "board."+msg.Type,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("board.message_type", msg.Type),
			attribute.String("board.connection_id", sess.ID),
		),
	)
	defer span.End()

	var err error
	switch msg.Type {
	case protocol.TypeJoin:
		err = g.handleJoin(sess, msg)
	case protocol.TypeAddCard:
		err = g.handleAddCard(sess, msg)
	case protocol.TypeDeleteCard:
		err = g.handleDeleteCard(sess, msg)
	case protocol.TypeMoveCard:
		err = g.handleMoveCard(sess, msg)
	case protocol.TypeLikeCard:
		err = g.handleLikeCard(sess, msg)
	case protocol.TypeSortCards:
		err = g.handleSortCards(sess, msg)
	case protocol.TypeToggleHideContent:
		err = g.handleToggleHideContent(sess, msg)
	case protocol.TypePing:
		sess.Enqueue(protocol.Message{Type: protocol.TypePong})
	case protocol.TypeLogout:
		err = g.handleLogout(sess, msg)
	default:
		err = board.Validationf("unknown message type %q", msg.Type)
	}

	status := "ok"
	if err != nil {
		status = errorStatus(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Debug("dispatch rejected",
			"type", msg.Type,
			"connection_id", sess.ID,
			"error", err)
		g.sendError(sess, err)
	}
	g.metrics.RecordMessage(msg.Type, status)
}

func errorStatus(err error) string {
	if kind := board.KindOf(err); kind != 0 {
		return kind.String()
	}
	return "invalid"
}

// sendError reports a failure to the offending session as a
// human-readable error message.
func (g *Gateway) sendError(sess *Session, err error) {
	sess.Enqueue(protocol.Must(protocol.TypeError, err.Error()))
}

func (g *Gateway) handleJoin(sess *Session, msg protocol.Message) error {
	var p protocol.JoinPayload
	if err := msg.DecodePayload(&p); err != nil {
		return board.Validationf("malformed join payload")
	}
	if p.Username == "" {
		return board.Validationf("a display name is required to join")
	}
	if p.Color == "" {
		return board.Validationf("a color is required to join")
	}
	if _, _, joined := sess.Identity(); joined {
		return board.Validationf("already joined")
	}

	sess.setState(StateJoining)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.sessions.ReserveName(p.Username, sess.ID); err != nil {
		sess.setState(StateConnected)
		return err
	}
	if err := g.colors.Claim(p.Color, sess.ID); err != nil {
		g.sessions.ReleaseName(p.Username, sess.ID)
		sess.setState(StateConnected)
		return err
	}

	sess.bindIdentity(p.Username, p.Color)
	sess.logger.Info("session joined", "name", p.Username, "color", p.Color)

	// joinSuccess and the snapshot go to the joining session only; the
	// claimed color is announced to everyone (the joiner's snapshot
	// already contains it, so the extra colorUsed is idempotent).
	sess.Enqueue(protocol.Message{Type: protocol.TypeJoinSuccess})
	sess.Enqueue(protocol.Must(protocol.TypeBoardState, g.boardStateLocked(p.Username)))
	g.hub.Broadcast(protocol.Must(protocol.TypeColorUsed, p.Color))
	return nil
}

func (g *Gateway) handleAddCard(sess *Session, msg protocol.Message) error {
	name, color, joined := sess.Identity()
	if !joined {
		return board.Permissionf("You must join the board to add cards")
	}

	var p protocol.AddCardPayload
	if err := msg.DecodePayload(&p); err != nil {
		return board.Validationf("malformed addCard payload")
	}
	// Author and color come from the session identity, not the client.
	p.Author = name
	p.Color = color

	g.mu.Lock()
	defer g.mu.Unlock()

	card, err := g.store.AddCard(p)
	if err != nil {
		return err
	}
	g.hub.Broadcast(protocol.Must(protocol.TypeCardAdded, card.View("")))
	return nil
}

func (g *Gateway) handleDeleteCard(sess *Session, msg protocol.Message) error {
	name, _, joined := sess.Identity()
	if !joined {
		return board.Permissionf("You must join the board to delete cards")
	}

	var p protocol.DeleteCardPayload
	if err := msg.DecodePayload(&p); err != nil {
		return board.Validationf("malformed deleteCard payload")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.DeleteCard(p.ID, name); err != nil {
		return err
	}
	g.hub.Broadcast(protocol.Must(protocol.TypeCardDeleted, p.ID))
	return nil
}

func (g *Gateway) handleMoveCard(sess *Session, msg protocol.Message) error {
	if _, _, joined := sess.Identity(); !joined {
		return board.Permissionf("You must join the board to move cards")
	}

	var p protocol.MoveCardPayload
	if err := msg.DecodePayload(&p); err != nil {
		return board.Validationf("malformed moveCard payload")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.MoveCard(p.ID, p.NewColumn); err != nil {
		return err
	}
	g.hub.Broadcast(protocol.Must(protocol.TypeCardMoved, p))
	return nil
}

func (g *Gateway) handleLikeCard(sess *Session, msg protocol.Message) error {
	name, _, joined := sess.Identity()
	if !joined {
		return board.Permissionf("You must be logged in to like cards")
	}

	var p protocol.LikeCardPayload
	if err := msg.DecodePayload(&p); err != nil {
		return board.Validationf("malformed likeCard payload")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	count, err := g.store.SetLike(p.CardID, name, p.Liked)
	if err != nil {
		return err
	}

	// Everyone gets the authoritative count; the acting session gets a
	// personalized copy carrying its own like state.
	g.hub.Broadcast(protocol.Must(protocol.TypeCardLiked, protocol.CardLikedPayload{
		CardID:    p.CardID,
		LikeCount: count,
	}))
	liked := p.Liked
	sess.Enqueue(protocol.Must(protocol.TypeCardLiked, protocol.CardLikedPayload{
		CardID:    p.CardID,
		LikeCount: count,
		Liked:     &liked,
	}))
	return nil
}

func (g *Gateway) handleSortCards(sess *Session, msg protocol.Message) error {
	if _, _, joined := sess.Identity(); !joined {
		return board.Permissionf("You must join the board to sort cards")
	}

	var p protocol.SortCardsPayload
	if err := msg.DecodePayload(&p); err != nil {
		return board.Validationf("malformed sortCards payload")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cards, err := g.store.SortAll(p.SortOrder)
	if err != nil {
		return err
	}

	// cardsSorted is personalized: each receiver sees its own like
	// status on every card.
	g.hub.BroadcastEach(func(recv *Session) (protocol.Message, bool) {
		viewer, _, joined := recv.Identity()
		if !joined {
			viewer = ""
		}
		views := make([]protocol.CardView, len(cards))
		for i := range cards {
			views[i] = cards[i].View(viewer)
		}
		return protocol.Must(protocol.TypeCardsSorted, views), true
	})
	return nil
}

func (g *Gateway) handleToggleHideContent(sess *Session, msg protocol.Message) error {
	if _, _, joined := sess.Identity(); !joined {
		return board.Permissionf("You must join the board to toggle visibility")
	}

	var hidden bool
	if err := msg.DecodePayload(&hidden); err != nil {
		return board.Validationf("malformed toggleHideContent payload")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.store.SetHideContent(hidden)
	g.hub.Broadcast(protocol.Must(protocol.TypeHideContentToggled, hidden))
	return nil
}

func (g *Gateway) handleLogout(sess *Session, msg protocol.Message) error {
	// The payload duplicates identity the server already holds; decode
	// failures are not worth rejecting a goodbye over.
	var p protocol.JoinPayload
	_ = msg.DecodePayload(&p)

	sess.logger.Info("session logout")
	g.Teardown(sess)
	sess.CloseWithReason(websocket.CloseNormalClosure, protocol.CloseReasonLogout, closeWriteTimeout)
	return nil
}

// Teardown releases everything a session holds: its registry entry,
// display name, and claimed color. It runs exactly once per session no
// matter how many paths race into it (explicit logout, transport
// error, server shutdown), which is what keeps colors from being
// double-released.
func (g *Gateway) Teardown(sess *Session) {
	if !sess.cleaned.CompareAndSwap(false, true) {
		return
	}

	g.mu.Lock()
	name, color, joined := sess.Identity()
	g.sessions.Remove(sess)
	released := joined && color != "" && g.colors.Release(color)
	sess.setState(StateClosed)
	if released {
		g.hub.Broadcast(protocol.Must(protocol.TypeColorReleased, color))
	}
	g.mu.Unlock()

	g.hub.Unregister(sess)
	if name != "" {
		sess.logger.Info("session cleaned up", "name", name, "color_released", released)
	}
}

// BoardState builds the snapshot payload personalized for viewer.
func (g *Gateway) BoardState(viewer string) protocol.BoardStatePayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boardStateLocked(viewer)
}

func (g *Gateway) boardStateLocked(viewer string) protocol.BoardStatePayload {
	cards := g.store.Snapshot()
	views := make([]protocol.CardView, len(cards))
	for i := range cards {
		views[i] = cards[i].View(viewer)
	}
	return protocol.BoardStatePayload{
		Cards:       views,
		UsedColors:  g.colors.Colors(),
		HideContent: g.store.HideContent(),
	}
}
