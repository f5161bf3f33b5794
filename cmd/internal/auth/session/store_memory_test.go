package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_RollbackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	root := Record{ID: "r1", UserID: "u1", FamilyID: "r1", TokenHash: "h1", Status: StatusActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.Insert(ctx, root); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		next := root
		next.ID, next.TokenHash = "r2", "h2"
		if err := tx.Insert(ctx, next); err != nil {
			return err
		}
		if err := tx.MarkRotated(ctx, now, root.ID, next.TokenHash); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if got.Status != StatusActive || got.ReplacedBy != nil {
		t.Fatalf("rotation leaked out of failed tx: %+v", got)
	}
	if _, err := s.GetByHash(ctx, "h2"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("successor leaked out of failed tx: %v", err)
	}
}

func TestMemoryStore_StagedVisibleInsideTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		rec := Record{ID: "a", UserID: "u", FamilyID: "a", TokenHash: "ha", Status: StatusActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
		if err := tx.Insert(ctx, rec); err != nil {
			return err
		}
		if _, err := tx.GetByHashForUpdate(ctx, "ha"); err != nil {
			return err
		}
		if err := tx.Insert(ctx, rec); err == nil {
			t.Errorf("duplicate insert accepted")
		}
		n, err := tx.RevokeUser(ctx, now, "u", ReasonLogoutAll)
		if n != 1 {
			t.Errorf("RevokeUser n=%d", n)
		}
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	got, err := s.GetByHash(ctx, "ha")
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if got.Status != StatusRevoked || got.Reason == nil || *got.Reason != ReasonLogoutAll {
		t.Fatalf("unexpected record: %+v", got)
	}
}
