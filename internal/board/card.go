// Package board holds the authoritative shared state of one retro
// board: the cards and their per-column order, the claimed display
// colors, and the board-global flags. All mutation goes through the
// narrow operations on Store and ColorRegistry; callers outside this
// package only ever see copies.
package board

import "github.com/retroboard/retroboard/internal/protocol"

// Card is a single text card on the board. Author and Color are fixed
// at creation; Column changes via MoveCard; likedBy via SetLike.
type Card struct {
	ID     string
	Text   string
	Column string
	Author string
	Color  string

	likedBy map[string]struct{}
}

// Likes returns the number of distinct users who like the card.
func (c *Card) Likes() int {
	return len(c.likedBy)
}

// LikedBy reports whether name currently likes the card.
func (c *Card) LikedBy(name string) bool {
	_, ok := c.likedBy[name]
	return ok
}

// View converts the card to its wire shape. If viewer is non-empty the
// view is personalized with the viewer's like status.
func (c *Card) View(viewer string) protocol.CardView {
	v := protocol.CardView{
		ID:     c.ID,
		Text:   c.Text,
		Column: c.Column,
		Author: c.Author,
		Color:  c.Color,
		Likes:  c.Likes(),
	}
	if viewer != "" {
		liked := c.LikedBy(viewer)
		v.UserLiked = &liked
	}
	return v
}

// clone deep-copies the card, including its like set.
func (c *Card) clone() Card {
	dup := *c
	dup.likedBy = make(map[string]struct{}, len(c.likedBy))
	for name := range c.likedBy {
		dup.likedBy[name] = struct{}{}
	}
	return dup
}
