package v1

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeInbound(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		wantErr error
		want    Inbound
	}{
		{"chat", `{"type":"chat","client_message_id":" k1 ","content":"hi"}`, nil, Inbound{Type: TypeChat, ClientMessageID: "k1", Content: "hi"}},
		{"typing", `{"type":"typing","extra":1}`, nil, Inbound{Type: TypeTyping}},
		{"ping", `{"type":"ping"}`, nil, Inbound{Type: TypePing}},
		{"not json", `{"type":`, ErrInvalidJSON, Inbound{}},
		{"array", `[1,2]`, ErrInvalidJSON, Inbound{}},
		{"null", `null`, ErrInvalidJSON, Inbound{}},
		{"numeric type", `{"type":5}`, ErrInvalidJSON, Inbound{}},
		{"missing type", `{"content":"x"}`, ErrUnknownType, Inbound{}},
		{"server type", `{"type":"system"}`, ErrUnknownType, Inbound{}},
		{"bad content", `{"type":"chat","content":{}}`, ErrInvalidJSON, Inbound{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tc.in))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if got.Type != tc.want.Type || got.ClientMessageID != tc.want.ClientMessageID || got.Content != tc.want.Content {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestRelay_TagsSender(t *testing.T) {
	t.Parallel()

	in, err := DecodeInbound([]byte(`{"type":"read","message_id":"m1","user_id":"spoofed"}`))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	f, err := in.Relay("u1", "c1")
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(f, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["type"] != "read" || out["message_id"] != "m1" {
		t.Fatalf("payload not preserved: %v", out)
	}
	if out["user_id"] != "u1" || out["connection_id"] != "c1" {
		t.Fatalf("sender not tagged: %v", out)
	}
}
