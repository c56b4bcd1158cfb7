package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/retroboard/retroboard/internal/config"
	"github.com/retroboard/retroboard/internal/protocol"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	srv := New(cfg, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.sessions.Shutdown()
		srv.hub.Shutdown()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msgType string, payload any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(protocol.Must(msgType, payload)); err != nil {
		c.t.Fatalf("send %s: %v", msgType, err)
	}
}

// expect reads until a message of the wanted type arrives.
func (c *wsClient) expect(msgType string) protocol.Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.t.Fatalf("waiting for %q: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func (c *wsClient) join(name, color string) {
	c.t.Helper()
	c.expect(protocol.TypeBoardState) // anonymous snapshot on connect
	c.send(protocol.TypeJoin, protocol.JoinPayload{Color: color, Username: name})
	c.expect(protocol.TypeJoinSuccess)
	c.expect(protocol.TypeBoardState)
}

func TestServerCollaborationRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	ann := dialWS(t, ts)
	ann.join("Ann", "blue")

	ben := dialWS(t, ts)
	ben.join("Ben", "red")

	// Ann adds a card; both participants see the same event.
	ann.send(protocol.TypeAddCard, protocol.AddCardPayload{
		ID: "c1", Text: "retro works", Column: "went-well",
	})
	for _, c := range []*wsClient{ann, ben} {
		msg := c.expect(protocol.TypeCardAdded)
		var card protocol.CardView
		if err := msg.DecodePayload(&card); err != nil {
			t.Fatalf("decode cardAdded: %v", err)
		}
		if card.ID != "c1" || card.Author != "Ann" || card.Color != "blue" {
			t.Errorf("cardAdded = %+v", card)
		}
	}

	// Ben likes it; both see the count.
	ben.send(protocol.TypeLikeCard, protocol.LikeCardPayload{CardID: "c1", Liked: true})
	for _, c := range []*wsClient{ann, ben} {
		msg := c.expect(protocol.TypeCardLiked)
		var p protocol.CardLikedPayload
		if err := msg.DecodePayload(&p); err != nil {
			t.Fatalf("decode cardLiked: %v", err)
		}
		if p.LikeCount != 1 {
			t.Errorf("likeCount = %d, want 1", p.LikeCount)
		}
	}

	// Ben cannot delete Ann's card; the error goes to Ben alone.
	ben.send(protocol.TypeDeleteCard, protocol.DeleteCardPayload{ID: "c1"})
	msg := ben.expect(protocol.TypeError)
	var text string
	if err := msg.DecodePayload(&text); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if text != "You can only delete your own cards" {
		t.Errorf("error = %q", text)
	}

	// Ann moves the card; Ben observes it.
	ann.send(protocol.TypeMoveCard, protocol.MoveCardPayload{ID: "c1", NewColumn: "action-items"})
	moved := ben.expect(protocol.TypeCardMoved)
	var mv protocol.MoveCardPayload
	if err := moved.DecodePayload(&mv); err != nil {
		t.Fatalf("decode cardMoved: %v", err)
	}
	if mv.ID != "c1" || mv.NewColumn != "action-items" {
		t.Errorf("cardMoved = %+v", mv)
	}
}

func TestServerDuplicateJoinRejected(t *testing.T) {
	_, ts := newTestServer(t)

	ann := dialWS(t, ts)
	ann.join("Ann", "blue")

	imposter := dialWS(t, ts)
	imposter.expect(protocol.TypeBoardState)
	imposter.send(protocol.TypeJoin, protocol.JoinPayload{Color: "red", Username: "ann"})
	msg := imposter.expect(protocol.TypeError)
	var text string
	if err := msg.DecodePayload(&text); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "This username is already in use. Please choose another one." {
		t.Errorf("error = %q", text)
	}
}

func TestServerLogoutSendsCloseReason(t *testing.T) {
	_, ts := newTestServer(t)

	ann := dialWS(t, ts)
	ann.join("Ann", "blue")

	ann.send(protocol.TypeLogout, nil)

	ann.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg protocol.Message
		err := ann.conn.ReadJSON(&msg)
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("want close error, got %v", err)
		}
		if closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != protocol.CloseReasonLogout {
			t.Fatalf("close = (%d, %q), want (%d, %q)",
				closeErr.Code, closeErr.Text,
				websocket.CloseNormalClosure, protocol.CloseReasonLogout)
		}
		return
	}
}

func TestServerDisconnectFreesNameAndColor(t *testing.T) {
	srv, ts := newTestServer(t)

	ann := dialWS(t, ts)
	ann.join("Ann", "blue")

	witness := dialWS(t, ts)
	witness.join("Witness", "green")

	ann.conn.Close() // abrupt drop, no logout

	released := witness.expect(protocol.TypeColorReleased)
	var color string
	if err := released.DecodePayload(&color); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if color != "blue" {
		t.Errorf("colorReleased = %q, want blue", color)
	}
	if srv.sessions.NameInUse("Ann") {
		t.Error("drop should free the display name")
	}

	// A new participant can reuse both immediately.
	rejoin := dialWS(t, ts)
	rejoin.join("Ann", "blue")
}

func TestServerSnapshotOnConnect(t *testing.T) {
	_, ts := newTestServer(t)

	ann := dialWS(t, ts)
	ann.join("Ann", "blue")
	ann.send(protocol.TypeAddCard, protocol.AddCardPayload{
		ID: "c1", Text: "hello", Column: "went-well",
	})
	ann.expect(protocol.TypeCardAdded)

	late := dialWS(t, ts)
	msg := late.expect(protocol.TypeBoardState)
	var snapshot protocol.BoardStatePayload
	if err := msg.DecodePayload(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Cards) != 1 || snapshot.Cards[0].ID != "c1" {
		t.Fatalf("snapshot cards = %+v", snapshot.Cards)
	}
	if snapshot.Cards[0].UserLiked != nil {
		t.Error("anonymous snapshot must not carry userLiked")
	}
	if !snapshot.UsedColors["blue"] {
		t.Error("snapshot should list claimed colors")
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
