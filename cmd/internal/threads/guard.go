package threads

import (
	"context"
	"strings"
)

// Guard authorizes access to a thread for its owner only.
type Guard struct {
	store Store
}

// NewGuard constructs a Guard over store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Authorize returns the thread when userID owns it and ErrNotFound otherwise.
func (g *Guard) Authorize(ctx context.Context, userID, threadID string) (Thread, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" || strings.TrimSpace(userID) == "" {
		return Thread{}, ErrNotFound
	}
	return g.store.FindOwned(ctx, threadID, userID)
}
