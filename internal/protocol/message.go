// Package protocol defines the JSON wire protocol spoken between the
// board server and its clients: a small envelope of {type, payload}
// plus one typed payload struct per message kind.
//
// The package is a leaf: it knows nothing about sessions or the board
// store, so both the server and the client sync agent can depend on it.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types sent by clients.
const (
	TypeJoin              = "join"
	TypeAddCard           = "addCard"
	TypeDeleteCard        = "deleteCard"
	TypeMoveCard          = "moveCard"
	TypeLikeCard          = "likeCard"
	TypeSortCards         = "sortCards"
	TypeToggleHideContent = "toggleHideContent"
	TypePing              = "ping"
	TypeLogout            = "logout"
)

// Message types sent by the server.
const (
	TypeJoinSuccess        = "joinSuccess"
	TypeBoardState         = "boardState"
	TypeCardAdded          = "cardAdded"
	TypeCardDeleted        = "cardDeleted"
	TypeCardMoved          = "cardMoved"
	TypeCardLiked          = "cardLiked"
	TypeCardsSorted        = "cardsSorted"
	TypeColorUsed          = "colorUsed"
	TypeColorReleased      = "colorReleased"
	TypeHideContentToggled = "hideContentToggled"
	TypePong               = "pong"
	TypeError              = "error"
)

// Close reason sent with a normal-closure close frame when the server
// tears a connection down on explicit logout. Clients must not attempt
// to reconnect after seeing it.
const CloseReasonLogout = "Logout"

// Sort directions accepted by sortCards.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Message is the wire envelope. Payload stays raw until the receiver
// knows the type; use Must (or Encode) to build outbound messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode builds a Message with the payload marshaled in place.
func Encode(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// Must is Encode for payloads under our control. It panics on marshal
// failure, which for the structs in this package cannot happen.
func Must(msgType string, payload any) Message {
	msg, err := Encode(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// DecodePayload unmarshals the envelope payload into dst.
func (m Message) DecodePayload(dst any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", m.Type, err)
	}
	return nil
}

// JoinPayload is sent by a client to claim an identity on the board.
// The same payload shape is reused by logout.
type JoinPayload struct {
	Color    string `json:"color"`
	Username string `json:"username"`
}

// AddCardPayload carries a client-created card. The id is assigned by
// the creating client and must be unique for the lifetime of the board.
type AddCardPayload struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Column string `json:"column"`
	Author string `json:"author"`
	Color  string `json:"color"`
}

// DeleteCardPayload identifies a card to remove. AuthorName is the
// requester's display name; the server enforces author-only deletion.
type DeleteCardPayload struct {
	ID         string `json:"id"`
	AuthorName string `json:"authorName"`
}

// MoveCardPayload moves a card to another column.
type MoveCardPayload struct {
	ID        string `json:"id"`
	NewColumn string `json:"newColumn"`
}

// LikeCardPayload toggles the requester's like on a card. The server
// recomputes the count from its like set; Liked is a desired state,
// never a delta.
type LikeCardPayload struct {
	CardID string `json:"cardId"`
	Liked  bool   `json:"liked"`
}

// SortCardsPayload requests a global re-sort.
type SortCardsPayload struct {
	SortOrder string `json:"sortOrder"`
}

// CardView is the wire representation of a card. UserLiked is set only
// on personalized messages (boardState, cardsSorted) and reports
// whether the receiving session has liked the card.
type CardView struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Column    string `json:"column"`
	Author    string `json:"author"`
	Color     string `json:"color"`
	Likes     int    `json:"likes"`
	UserLiked *bool  `json:"userLiked,omitempty"`
}

// CardLikedPayload broadcasts an authoritative like count. Liked is
// present only on the personalized copy sent to the session that
// issued the likeCard.
type CardLikedPayload struct {
	CardID    string `json:"cardId"`
	LikeCount int    `json:"likeCount"`
	Liked     *bool  `json:"liked,omitempty"`
}

// BoardStatePayload is the full snapshot sent to a newly joined
// session. Cards appear in authoritative column order.
type BoardStatePayload struct {
	Cards       []CardView      `json:"cards"`
	UsedColors  map[string]bool `json:"usedColors"`
	HideContent bool            `json:"hideContent"`
}
