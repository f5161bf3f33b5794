package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. A transaction holds the store mutex
// until it finishes, so rotations of the same token are serialized.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Record
	byHash map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Record),
		byHash: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	return s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Insert(ctx, rec)
	})
}

func (s *MemoryStore) GetByHash(_ context.Context, tokenHash string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return s.byID[id], nil
}

// InTx stages writes and applies them only when fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]Record)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, rec := range tx.staged {
		s.byID[id] = rec
		s.byHash[rec.TokenHash] = id
	}
	return nil
}

// Records returns a copy of every record of a user. Intended for tests and tooling.
func (s *MemoryStore) Records(userID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.byID {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

type memoryTx struct {
	store  *MemoryStore
	staged map[string]Record
}

func (t *memoryTx) get(id string) (Record, bool) {
	if rec, ok := t.staged[id]; ok {
		return rec, true
	}
	rec, ok := t.store.byID[id]
	return rec, ok
}

func (t *memoryTx) each(fn func(Record)) {
	for id, rec := range t.store.byID {
		if _, ok := t.staged[id]; ok {
			continue
		}
		fn(rec)
	}
	for _, rec := range t.staged {
		fn(rec)
	}
}

func (t *memoryTx) GetByHashForUpdate(_ context.Context, tokenHash string) (Record, error) {
	if id, ok := t.store.byHash[tokenHash]; ok {
		rec, _ := t.get(id)
		return rec, nil
	}
	for _, rec := range t.staged {
		if rec.TokenHash == tokenHash {
			return rec, nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (t *memoryTx) Insert(_ context.Context, rec Record) error {
	if rec.ID == "" || rec.TokenHash == "" {
		return errors.New("session: record id and hash are required")
	}
	if _, ok := t.get(rec.ID); ok {
		return errors.New("session: duplicate record id")
	}
	if _, err := t.GetByHashForUpdate(context.Background(), rec.TokenHash); err == nil {
		return errors.New("session: duplicate token hash")
	}
	t.staged[rec.ID] = rec
	return nil
}

func (t *memoryTx) MarkRotated(_ context.Context, now time.Time, id, successorHash string) error {
	rec, ok := t.get(id)
	if !ok {
		return ErrRecordNotFound
	}
	if rec.Status != StatusActive {
		return errors.New("session: record is not active")
	}
	reason := ReasonRotation
	rec.Status = StatusRotated
	rec.Reason = &reason
	rec.ReplacedBy = &successorHash
	rec.LastUsedAt = &now
	rec.RevokedAt = &now
	t.staged[id] = rec
	return nil
}

func (t *memoryTx) Revoke(_ context.Context, now time.Time, id string, reason RevocationReason) error {
	rec, ok := t.get(id)
	if !ok {
		return ErrRecordNotFound
	}
	if rec.Status == StatusActive {
		t.staged[id] = revoked(rec, now, reason)
	}
	return nil
}

func (t *memoryTx) RevokeFamily(_ context.Context, now time.Time, familyID string, reason RevocationReason) (int64, error) {
	return t.revokeWhere(now, reason, func(r Record) bool { return r.FamilyID == familyID }), nil
}

func (t *memoryTx) RevokeUser(_ context.Context, now time.Time, userID string, reason RevocationReason) (int64, error) {
	return t.revokeWhere(now, reason, func(r Record) bool { return r.UserID == userID }), nil
}

func (t *memoryTx) revokeWhere(now time.Time, reason RevocationReason, match func(Record) bool) int64 {
	var hits []Record
	t.each(func(r Record) {
		if r.Status == StatusActive && match(r) {
			hits = append(hits, r)
		}
	})
	for _, r := range hits {
		t.staged[r.ID] = revoked(r, now, reason)
	}
	return int64(len(hits))
}

func revoked(rec Record, now time.Time, reason RevocationReason) Record {
	rec.Status = StatusRevoked
	rec.Reason = &reason
	rec.RevokedAt = &now
	return rec
}
