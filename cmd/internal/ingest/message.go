package ingest

import (
	"context"
	"time"
)

// SenderType tells user messages from assistant replies.
type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderAssistant SenderType = "assistant"
)

// Message is a persisted chat message.
type Message struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"thread_id"`
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`

	// ClientMessageID is the dedup key of a user message.
	ClientMessageID *string `json:"client_message_id,omitempty"`

	// ParentMessageID links an assistant reply to its user message.
	ParentMessageID *string `json:"parent_message_id,omitempty"`

	// ResponseToClientMessageID is the dedup key an assistant reply answers.
	ResponseToClientMessageID *string `json:"response_to_client_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Store persists messages.
//
// The schema allows at most one user message and one assistant message per
// (thread_id, client_message_id); inserts that hit those indexes return ErrDuplicate.
type Store interface {
	FindUserMessage(ctx context.Context, threadID, key string) (Message, error)
	FindAssistantReply(ctx context.Context, threadID, key string) (Message, error)

	// GetMessage loads one message of a thread. It returns ErrNoMessage when
	// the thread has no message with that id.
	GetMessage(ctx context.Context, threadID, messageID string) (Message, error)

	InsertUserMessage(ctx context.Context, m Message) error

	// CommitAssistantReply inserts reply in one transaction after confirming
	// that its parent user message still exists. When a reply for the same key
	// already exists it is returned with existing=true.
	CommitAssistantReply(ctx context.Context, reply Message) (stored Message, existing bool, err error)

	// ListMessages returns up to limit messages with id < before (all when
	// before is empty), oldest first.
	ListMessages(ctx context.Context, threadID, before string, limit int) ([]Message, error)

	// DeleteThread drops every message of a thread.
	DeleteThread(ctx context.Context, threadID string) error
}
