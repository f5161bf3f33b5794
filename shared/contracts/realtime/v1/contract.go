// Package v1 defines the relay realtime wire protocol.
//
// Every frame is a flat JSON object with a "type" field; the remaining fields
// depend on the type. Client frames of type chat, typing and read are relayed
// to the thread's room with user_id and connection_id added by the server.
package v1

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Frame types (wire-stable).
const (
	TypeChat   = "chat"
	TypeTyping = "typing"
	TypeRead   = "read"
	TypeSystem = "system"
	TypeError  = "error"
	TypeStatus = "status"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeCancel = "cancel"
)

// System events.
const (
	EventJoined = "joined"
	EventLeft   = "left"
)

// Generation states carried by status frames.
const (
	StateGenerating = "generating"
	StateStreaming  = "streaming"
	StateCanceled   = "canceled"
	StateFailed     = "failed"
)

// Error codes carried by error frames.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeUnknownType      = "unknown_type"
	CodeRateLimited      = "rate_limited"
	CodeMissingDedupKey  = "missing_client_message_id"
	CodeInvalidContent   = "invalid_content"
	CodeNotFound         = "not_found"
	CodeServerError      = "server_error"
	CodeFrameTooLarge    = "frame_too_large"
	CodeUnsupportedFrame = "unsupported_frame"
)

var (
	ErrInvalidJSON = errors.New("invalid json frame")
	ErrUnknownType = errors.New("unknown frame type")
)

// clientTypes are the frame types a client may send.
var clientTypes = map[string]struct{}{
	TypeChat:   {},
	TypeTyping: {},
	TypeRead:   {},
	TypePing:   {},
	TypeCancel: {},
}

// Frame is an encoded wire frame, ready to be written as a text message.
type Frame []byte

// Encode marshals v into a Frame.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

// Inbound is a decoded client frame.
type Inbound struct {
	Type            string
	ClientMessageID string
	Content         string

	fields map[string]json.RawMessage
}

// DecodeInbound parses a client frame. It returns ErrInvalidJSON for
// malformed input and ErrUnknownType for a type clients may not send.
func DecodeInbound(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Inbound{}, ErrInvalidJSON
	}

	in := Inbound{fields: fields}
	if err := decodeString(fields, "type", &in.Type); err != nil {
		return Inbound{}, ErrInvalidJSON
	}
	if _, ok := clientTypes[in.Type]; !ok {
		return in, ErrUnknownType
	}
	if err := decodeString(fields, "client_message_id", &in.ClientMessageID); err != nil {
		return Inbound{}, ErrInvalidJSON
	}
	if err := decodeString(fields, "content", &in.Content); err != nil {
		return Inbound{}, ErrInvalidJSON
	}
	in.ClientMessageID = strings.TrimSpace(in.ClientMessageID)
	return in, nil
}

func decodeString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Relay re-encodes the frame as received, tagged with its sender.
// Sender fields supplied by the client are overwritten.
func (in Inbound) Relay(userID, connectionID string) (Frame, error) {
	out := make(map[string]json.RawMessage, len(in.fields)+2)
	for k, v := range in.fields {
		out[k] = v
	}
	uid, _ := json.Marshal(userID)
	cid, _ := json.Marshal(connectionID)
	out["user_id"] = uid
	out["connection_id"] = cid
	return Encode(out)
}

// SystemFrame announces membership changes in a room.
type SystemFrame struct {
	Type         string    `json:"type"`
	Event        string    `json:"event"`
	ThreadID     string    `json:"thread_id"`
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	TS           time.Time `json:"ts"`
}

// StatusFrame reports the progress of an assistant reply.
type StatusFrame struct {
	Type            string `json:"type"`
	State           string `json:"state"`
	ClientMessageID string `json:"client_message_id"`
	Delta           string `json:"delta,omitempty"`
}

// MessageFrame carries a persisted assistant reply as a chat frame.
type MessageFrame struct {
	Type                      string    `json:"type"`
	SenderType                string    `json:"sender_type"`
	MessageID                 string    `json:"message_id"`
	ThreadID                  string    `json:"thread_id"`
	Content                   string    `json:"content"`
	ParentMessageID           string    `json:"parent_message_id,omitempty"`
	ResponseToClientMessageID string    `json:"response_to_client_message_id,omitempty"`
	CreatedAt                 time.Time `json:"created_at"`
}

// ErrorFrame is sent to a single connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongFrame answers a client ping.
type PongFrame struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
}

// NewSystem builds a system frame.
func NewSystem(event, threadID, userID, connectionID string, ts time.Time) SystemFrame {
	return SystemFrame{Type: TypeSystem, Event: event, ThreadID: threadID, UserID: userID, ConnectionID: connectionID, TS: ts}
}

// NewStatus builds a status frame.
func NewStatus(state, clientMessageID, delta string) StatusFrame {
	return StatusFrame{Type: TypeStatus, State: state, ClientMessageID: clientMessageID, Delta: delta}
}

// NewError builds an error frame.
func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}
