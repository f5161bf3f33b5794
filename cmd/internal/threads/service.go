package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"relay/cmd/identity/ids"
)

// DeleteHook runs after a thread is removed so that stores without
// cascading foreign keys can drop dependent rows.
type DeleteHook func(ctx context.Context, threadID string) error

// Service implements owner-scoped thread CRUD.
type Service struct {
	store Store
	guard *Guard
	log   *slog.Logger
	hooks []DeleteHook
}

// NewService constructs a thread Service.
func NewService(store Store, log *slog.Logger, hooks ...DeleteHook) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, guard: NewGuard(store), log: log, hooks: hooks}
}

// Guard returns the ownership guard backed by the same store.
func (s *Service) Guard() *Guard { return s.guard }

func normalizeTitle(title string, allowDefault bool) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		if allowDefault {
			return DefaultTitle, nil
		}
		return "", ErrInvalidTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return "", ErrInvalidTitle
	}
	return title, nil
}

// Create starts a new thread. A blank title becomes DefaultTitle.
func (s *Service) Create(ctx context.Context, now time.Time, userID, title string) (Thread, error) {
	title, err := normalizeTitle(title, true)
	if err != nil {
		return Thread{}, err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Thread{}, err
	}
	t := Thread{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Create(ctx, t); err != nil {
		return Thread{}, fmt.Errorf("threads: create: %w", err)
	}
	return t, nil
}

// Get returns an owned thread.
func (s *Service) Get(ctx context.Context, userID, threadID string) (Thread, error) {
	return s.guard.Authorize(ctx, userID, threadID)
}

// List returns a page of owned threads, newest first.
func (s *Service) List(ctx context.Context, userID, before string, limit int) ([]Thread, error) {
	switch {
	case limit <= 0:
		limit = DefaultPageLen
	case limit > MaxPageLen:
		limit = MaxPageLen
	}
	return s.store.ListOwned(ctx, userID, strings.TrimSpace(before), limit)
}

// Rename changes the title of an owned thread.
func (s *Service) Rename(ctx context.Context, now time.Time, userID, threadID, title string) (Thread, error) {
	title, err := normalizeTitle(title, false)
	if err != nil {
		return Thread{}, err
	}
	if _, err := s.guard.Authorize(ctx, userID, threadID); err != nil {
		return Thread{}, err
	}
	return s.store.Rename(ctx, threadID, userID, title, now)
}

// Delete removes an owned thread and its messages.
func (s *Service) Delete(ctx context.Context, userID, threadID string) error {
	if _, err := s.guard.Authorize(ctx, userID, threadID); err != nil {
		return err
	}
	return s.drop(ctx, userID, threadID)
}

// DeleteAll removes every thread owned by userID and reports how many went.
func (s *Service) DeleteAll(ctx context.Context, userID string) (int, error) {
	var n int
	for {
		page, err := s.store.ListOwned(ctx, userID, "", MaxPageLen)
		if err != nil {
			return n, fmt.Errorf("threads: delete all: %w", err)
		}
		if len(page) == 0 {
			return n, nil
		}
		dropped := 0
		for _, t := range page {
			err := s.drop(ctx, userID, t.ID)
			switch {
			case err == nil:
				dropped++
			case errors.Is(err, ErrNotFound):
				// Deleted concurrently.
			default:
				return n, fmt.Errorf("threads: delete all: %w", err)
			}
		}
		n += dropped
		if dropped == 0 {
			return n, nil
		}
	}
}

func (s *Service) drop(ctx context.Context, userID, threadID string) error {
	if err := s.store.Delete(ctx, threadID, userID); err != nil {
		return err
	}
	for _, h := range s.hooks {
		if err := h(ctx, threadID); err != nil {
			s.log.Error("threads.delete.hook.fail", "thread_id", threadID, "err", err)
		}
	}
	return nil
}
