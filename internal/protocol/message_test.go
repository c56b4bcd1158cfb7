package protocol

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	msg := Must(TypeAddCard, AddCardPayload{
		ID:     "1",
		Text:   "hello",
		Column: "went-well",
		Author: "Ann",
		Color:  "#fff",
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeAddCard {
		t.Errorf("Type = %q, want %q", decoded.Type, TypeAddCard)
	}

	var p AddCardPayload
	if err := decoded.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.ID != "1" || p.Author != "Ann" {
		t.Errorf("payload = %+v", p)
	}
}

func TestEncodeNilPayload(t *testing.T) {
	msg, err := Encode(TypePong, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data, _ := json.Marshal(msg)
	if string(data) != `{"type":"pong"}` {
		t.Errorf("marshaled = %s", data)
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"missing payload", Message{Type: TypeJoin}},
		{"malformed payload", Message{Type: TypeJoin, Payload: json.RawMessage(`42`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JoinPayload
			if err := tt.msg.DecodePayload(&p); err == nil {
				t.Error("DecodePayload() = nil, want error")
			}
		})
	}
}

func TestToggleHideContentBarePayload(t *testing.T) {
	// toggleHideContent carries a bare boolean, not an object.
	var msg Message
	if err := json.Unmarshal([]byte(`{"type":"toggleHideContent","payload":true}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var flag bool
	if err := msg.DecodePayload(&flag); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !flag {
		t.Error("flag = false, want true")
	}
}
