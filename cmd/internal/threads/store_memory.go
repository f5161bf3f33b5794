package threads

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]Thread
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]Thread)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, t Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = t
	return nil
}

func (s *MemoryStore) FindOwned(_ context.Context, threadID, userID string) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok || t.UserID != userID {
		return Thread{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) ListOwned(_ context.Context, userID, before string, limit int) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Thread, 0, limit)
	for _, t := range s.threads {
		if t.UserID != userID {
			continue
		}
		if before != "" && t.ID >= before {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Rename(_ context.Context, threadID, userID, title string, now time.Time) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok || t.UserID != userID {
		return Thread{}, ErrNotFound
	}
	t.Title = title
	t.UpdatedAt = now
	s.threads[threadID] = t
	return t, nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(s.threads, threadID)
	return nil
}
