// Package client implements the board's client-side sync agent: it
// maintains the WebSocket transport, replays the join handshake on
// every (re)connect, and applies the server's event stream to a local
// mirror of the board. The mirror is disposable - it is rebuilt from a
// fresh snapshot whenever the agent rejoins - and is never a source of
// truth.
package client

import (
	"sync"

	"github.com/retroboard/retroboard/internal/protocol"
)

// Mirror is the local copy of board state. Event application is
// idempotent: the server delivers at-least-once, and a snapshot may
// overlap with events already applied.
type Mirror struct {
	mu          sync.RWMutex
	cards       map[string]protocol.CardView
	order       []string
	usedColors  map[string]bool
	hideContent bool
}

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{
		cards:      make(map[string]protocol.CardView),
		usedColors: make(map[string]bool),
	}
}

// Apply reconciles one server message into the mirror. Messages that
// carry no state (joinSuccess, pong, error) are ignored here; unknown
// types are ignored for forward compatibility.
func (m *Mirror) Apply(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeBoardState:
		var p protocol.BoardStatePayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		m.reset(p)

	case protocol.TypeCardAdded:
		var card protocol.CardView
		if err := msg.DecodePayload(&card); err != nil {
			return err
		}
		m.upsert(card)

	case protocol.TypeCardDeleted:
		var id string
		if err := msg.DecodePayload(&id); err != nil {
			return err
		}
		m.remove(id)

	case protocol.TypeCardMoved:
		var p protocol.MoveCardPayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		m.move(p.ID, p.NewColumn)

	case protocol.TypeCardLiked:
		var p protocol.CardLikedPayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		m.setLikes(p)

	case protocol.TypeCardsSorted:
		var views []protocol.CardView
		if err := msg.DecodePayload(&views); err != nil {
			return err
		}
		m.resort(views)

	case protocol.TypeColorUsed:
		var color string
		if err := msg.DecodePayload(&color); err != nil {
			return err
		}
		m.setColor(color, true)

	case protocol.TypeColorReleased:
		var color string
		if err := msg.DecodePayload(&color); err != nil {
			return err
		}
		m.setColor(color, false)

	case protocol.TypeHideContentToggled:
		var hidden bool
		if err := msg.DecodePayload(&hidden); err != nil {
			return err
		}
		m.mu.Lock()
		m.hideContent = hidden
		m.mu.Unlock()
	}
	return nil
}

func (m *Mirror) reset(p protocol.BoardStatePayload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cards = make(map[string]protocol.CardView, len(p.Cards))
	m.order = make([]string, 0, len(p.Cards))
	for _, card := range p.Cards {
		m.cards[card.ID] = card
		m.order = append(m.order, card.ID)
	}
	m.usedColors = make(map[string]bool, len(p.UsedColors))
	for color, used := range p.UsedColors {
		if used {
			m.usedColors[color] = true
		}
	}
	m.hideContent = p.HideContent
}

func (m *Mirror) upsert(card protocol.CardView) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := m.cards[card.ID]; !known {
		m.order = append(m.order, card.ID)
	}
	m.cards[card.ID] = card
}

func (m *Mirror) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := m.cards[id]; !known {
		return
	}
	delete(m.cards, id)
	m.order = removeID(m.order, id)
}

func (m *Mirror) move(id, newColumn string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, known := m.cards[id]
	if !known {
		return
	}
	card.Column = newColumn
	m.cards[id] = card
	// The server appends moved cards to the end of their new column;
	// moving the id to the end of the order keeps the filtered view
	// consistent with the authoritative order.
	m.order = append(removeID(m.order, id), id)
}

func (m *Mirror) setLikes(p protocol.CardLikedPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, known := m.cards[p.CardID]
	if !known {
		return
	}
	card.Likes = p.LikeCount
	if p.Liked != nil {
		liked := *p.Liked
		card.UserLiked = &liked
	}
	m.cards[p.CardID] = card
}

func (m *Mirror) resort(views []protocol.CardView) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order = m.order[:0]
	for _, card := range views {
		m.cards[card.ID] = card
		m.order = append(m.order, card.ID)
	}
}

func (m *Mirror) setColor(color string, used bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if used {
		m.usedColors[color] = true
	} else {
		delete(m.usedColors, color)
	}
}

// Cards returns all cards in authoritative order.
func (m *Mirror) Cards() []protocol.CardView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]protocol.CardView, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.cards[id])
	}
	return out
}

// CardsIn returns the cards of one column, in order.
func (m *Mirror) CardsIn(column string) []protocol.CardView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []protocol.CardView
	for _, id := range m.order {
		if card := m.cards[id]; card.Column == column {
			out = append(out, card)
		}
	}
	return out
}

// Card returns one card by id.
func (m *Mirror) Card(id string) (protocol.CardView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	card, ok := m.cards[id]
	return card, ok
}

// UsedColors returns the claimed color set.
func (m *Mirror) UsedColors() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.usedColors))
	for color := range m.usedColors {
		out[color] = true
	}
	return out
}

// HideContent returns the board-global visibility flag.
func (m *Mirror) HideContent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hideContent
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
