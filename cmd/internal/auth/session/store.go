package session

import (
	"context"
	"time"
)

// Store abstracts persistence for refresh records.
//
// Every state change that must be atomic with a read goes through InTx. If fn
// returns an error, nothing it wrote is visible to other readers.
type Store interface {
	// Insert persists a fresh active record outside of any transaction.
	Insert(ctx context.Context, rec Record) error

	// GetByHash loads a record without locking it.
	GetByHash(ctx context.Context, tokenHash string) (Record, error)

	// InTx runs fn inside a single transaction and commits if fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view of a Store.
type Tx interface {
	// GetByHashForUpdate loads a record and holds it until the transaction ends.
	// It returns ErrRecordNotFound when no record matches.
	GetByHashForUpdate(ctx context.Context, tokenHash string) (Record, error)

	Insert(ctx context.Context, rec Record) error

	// MarkRotated moves an active record to rotated and links its successor.
	MarkRotated(ctx context.Context, now time.Time, id, successorHash string) error

	// Revoke moves a single active record to revoked.
	Revoke(ctx context.Context, now time.Time, id string, reason RevocationReason) error

	// RevokeFamily revokes every active record of a family.
	RevokeFamily(ctx context.Context, now time.Time, familyID string, reason RevocationReason) (int64, error)

	// RevokeUser revokes every active record of a user.
	RevokeUser(ctx context.Context, now time.Time, userID string, reason RevocationReason) (int64, error)
}
