package board

import (
	"sort"
	"strings"
	"sync"

	"github.com/retroboard/retroboard/internal/protocol"
)

// Store is the authoritative board state: cards, per-column order, and
// the board-global flags. One mutex serializes every operation, so each
// op is atomic and Snapshot always observes a prefix of the mutation
// sequence, never a partial mutation.
//
// Store does not broadcast. Each mutating operation returns what the
// caller needs to emit the corresponding event; the gateway performs
// the fan-out while it still holds its dispatch serialization, which
// keeps event order equal to apply order.
type Store struct {
	mu sync.Mutex

	columns  []string
	colSet   map[string]struct{}
	cards    map[string]*Card
	order    map[string][]string // column -> card ids in display order
	seqs     map[string]int      // card id -> insertion sequence
	nextSeq  int
	hidden   bool
	sortWith string // last applied sort order, "" until first sort
}

// Stats summarizes the board for health checks and metrics.
type Stats struct {
	Cards int
	Likes int
}

// NewStore creates a Store with the given fixed column set.
func NewStore(columns []string) *Store {
	s := &Store{
		columns: append([]string(nil), columns...),
		colSet:  make(map[string]struct{}, len(columns)),
		cards:   make(map[string]*Card),
		order:   make(map[string][]string, len(columns)),
		seqs:    make(map[string]int),
	}
	for _, col := range columns {
		s.colSet[col] = struct{}{}
	}
	return s
}

// Columns returns the configured column identifiers in display order.
func (s *Store) Columns() []string {
	return append([]string(nil), s.columns...)
}

// AddCard validates and stores a new card, appending it to its column.
// The returned copy is what cardAdded should carry.
func (s *Store) AddCard(p protocol.AddCardPayload) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(p.Text) == "" {
		return Card{}, Validationf("card text must not be empty")
	}
	if p.ID == "" {
		return Card{}, Validationf("card id must not be empty")
	}
	if _, ok := s.colSet[p.Column]; !ok {
		return Card{}, Validationf("unknown column %q", p.Column)
	}
	if _, ok := s.cards[p.ID]; ok {
		return Card{}, Validationf("card %q already exists", p.ID)
	}

	card := &Card{
		ID:      p.ID,
		Text:    p.Text,
		Column:  p.Column,
		Author:  p.Author,
		Color:   p.Color,
		likedBy: make(map[string]struct{}),
	}
	s.cards[card.ID] = card
	s.order[card.Column] = append(s.order[card.Column], card.ID)
	s.seqs[card.ID] = s.nextSeq
	s.nextSeq++

	return card.clone(), nil
}

// DeleteCard removes a card. Only the card's author may delete it; a
// rejected delete leaves the card untouched.
func (s *Store) DeleteCard(id, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[id]
	if !ok {
		return NotFoundf("card %q not found", id)
	}
	if card.Author != requester {
		return Permissionf("You can only delete your own cards")
	}

	delete(s.cards, id)
	delete(s.seqs, id)
	s.order[card.Column] = removeID(s.order[card.Column], id)
	return nil
}

// MoveCard places the card in newColumn, appended at the end. Moving a
// card to the column it is already in is accepted as a no-op so the
// resulting cardMoved event stays idempotent for every mirror.
func (s *Store) MoveCard(id, newColumn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[id]
	if !ok {
		return NotFoundf("card %q not found", id)
	}
	if _, ok := s.colSet[newColumn]; !ok {
		return Validationf("unknown column %q", newColumn)
	}
	if card.Column == newColumn {
		return nil
	}

	s.order[card.Column] = removeID(s.order[card.Column], id)
	card.Column = newColumn
	s.order[newColumn] = append(s.order[newColumn], id)
	return nil
}

// SetLike sets liker's like on the card to liked and returns the
// authoritative count. The operation is idempotent: re-liking a liked
// card (or un-liking an un-liked one) changes nothing.
func (s *Store) SetLike(id, liker string, liked bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[id]
	if !ok {
		return 0, NotFoundf("card %q not found", id)
	}

	if liked {
		card.likedBy[liker] = struct{}{}
	} else {
		delete(card.likedBy, liker)
	}
	return card.Likes(), nil
}

// SortAll reorders every column by like count in the given direction.
// Ties keep their original insertion order regardless of how many
// sorts have been applied before. The full newly ordered card list is
// returned for the cardsSorted broadcast, and the direction is kept as
// the board's current sort order.
func (s *Store) SortAll(direction string) ([]Card, error) {
	if direction != protocol.SortAsc && direction != protocol.SortDesc {
		return nil, Validationf("unknown sort order %q", direction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, col := range s.columns {
		ids := s.order[col]
		sort.Slice(ids, func(i, j int) bool {
			a, b := s.cards[ids[i]], s.cards[ids[j]]
			if a.Likes() != b.Likes() {
				if direction == protocol.SortAsc {
					return a.Likes() < b.Likes()
				}
				return a.Likes() > b.Likes()
			}
			return s.seqs[a.ID] < s.seqs[b.ID]
		})
	}
	s.sortWith = direction

	return s.snapshotLocked(), nil
}

// SortOrder returns the most recently applied sort direction, or ""
// if the board has never been sorted.
func (s *Store) SortOrder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortWith
}

// SetHideContent sets the board-global content visibility flag.
func (s *Store) SetHideContent(hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden = hidden
}

// HideContent returns the board-global content visibility flag.
func (s *Store) HideContent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hidden
}

// Snapshot returns a deep copy of all cards in column order. The copy
// is taken under the store lock, so it reflects a consistent point in
// the mutation sequence.
func (s *Store) Snapshot() []Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Card {
	cards := make([]Card, 0, len(s.cards))
	for _, col := range s.columns {
		for _, id := range s.order[col] {
			cards = append(cards, s.cards[id].clone())
		}
	}
	return cards
}

// Card returns a copy of a single card.
func (s *Store) Card(id string) (Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[id]
	if !ok {
		return Card{}, false
	}
	return card.clone(), true
}

// Stats returns board totals.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Cards: len(s.cards)}
	for _, card := range s.cards {
		st.Likes += card.Likes()
	}
	return st
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
