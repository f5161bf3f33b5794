package threads

import (
	"context"
	"time"
)

const (
	DefaultTitle   = "New chat"
	MaxTitleLen    = 200
	DefaultPageLen = 20
	MaxPageLen     = 100
)

// Thread is a conversation owned by a single user.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists threads. Every lookup is scoped by owner and returns
// ErrNotFound when the pair does not match.
type Store interface {
	Create(ctx context.Context, t Thread) error
	FindOwned(ctx context.Context, threadID, userID string) (Thread, error)

	// ListOwned returns threads newest first. A non-empty before is an
	// exclusive thread-id cursor.
	ListOwned(ctx context.Context, userID, before string, limit int) ([]Thread, error)

	Rename(ctx context.Context, threadID, userID, title string, now time.Time) (Thread, error)

	// Delete removes the thread and, through the schema, its messages.
	Delete(ctx context.Context, threadID, userID string) error
}
