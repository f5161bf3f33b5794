package session

import (
	"context"
	"errors"
	"net"
	"time"

	"relay/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over relay.refresh_tokens.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates a Postgres-backed refresh store in schema
// (empty means the default schema).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil pool")
	}
	if schema == "" {
		schema = pgutil.DefaultSchema
	}
	schema, err := pgutil.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, table: pgutil.Ident(schema, "refresh_tokens")}, nil
}

var _ Store = (*PostgresStore)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `
	id, user_id, family_id, token_hash, status, revocation_reason, replaced_by,
	created_at, last_used_at, expires_at, revoked_at, platform, user_agent, ip`

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	return insertRecord(ctx, s.pool, s.table, rec)
}

func (s *PostgresStore) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table+` WHERE token_hash = $1`, tokenHash))
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &postgresTx{tx: tx, table: s.table}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	tx    pgx.Tx
	table string
}

func (t *postgresTx) GetByHashForUpdate(ctx context.Context, tokenHash string) (Record, error) {
	return scanRecord(t.tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+t.table+` WHERE token_hash = $1 FOR UPDATE`, tokenHash))
}

func (t *postgresTx) Insert(ctx context.Context, rec Record) error {
	return insertRecord(ctx, t.tx, t.table, rec)
}

func (t *postgresTx) MarkRotated(ctx context.Context, now time.Time, id, successorHash string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE `+t.table+`
		SET status = 'rotated',
		    revoked = true,
		    replaced_by = $3,
		    last_used_at = $2,
		    revoked_at = $2,
		    revocation_reason = 'rotation'
		WHERE id = $1 AND status = 'active'
	`, id, now, successorHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrRecordNotFound
	}
	return nil
}

func (t *postgresTx) Revoke(ctx context.Context, now time.Time, id string, reason RevocationReason) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE `+t.table+`
		SET status = 'revoked', revoked = true, revoked_at = $2, revocation_reason = $3
		WHERE id = $1 AND status = 'active'
	`, id, now, string(reason))
	return err
}

func (t *postgresTx) RevokeFamily(ctx context.Context, now time.Time, familyID string, reason RevocationReason) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE `+t.table+`
		SET status = 'revoked', revoked = true, revoked_at = $2, revocation_reason = $3
		WHERE family_id = $1 AND status = 'active'
	`, familyID, now, string(reason))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) RevokeUser(ctx context.Context, now time.Time, userID string, reason RevocationReason) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE `+t.table+`
		SET status = 'revoked', revoked = true, revoked_at = $2, revocation_reason = $3
		WHERE user_id = $1 AND status = 'active'
	`, userID, now, string(reason))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func insertRecord(ctx context.Context, q querier, table string, rec Record) error {
	var ip *string
	if rec.Device.IP != nil {
		v := rec.Device.IP.String()
		ip = &v
	}
	_, err := q.Exec(ctx, `
		INSERT INTO `+table+` (
			id, user_id, family_id, token_hash, status, revoked,
			created_at, last_used_at, expires_at, platform, user_agent, ip
		) VALUES ($1, $2, $3, $4, 'active', false, $5, NULL, $6, $7, $8, $9)
	`, rec.ID, rec.UserID, rec.FamilyID, rec.TokenHash,
		rec.CreatedAt, rec.ExpiresAt, string(rec.Device.Platform), nullIfEmpty(rec.Device.UserAgent), ip)
	return err
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec       Record
		status    string
		reason    *string
		platform  string
		userAgent *string
		ip        *string
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.FamilyID, &rec.TokenHash, &status, &reason, &rec.ReplacedBy,
		&rec.CreatedAt, &rec.LastUsedAt, &rec.ExpiresAt, &rec.RevokedAt, &platform, &userAgent, &ip,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}

	rec.Status = Status(status)
	if reason != nil {
		r := RevocationReason(*reason)
		rec.Reason = &r
	}
	rec.Device.Platform = Platform(platform)
	if userAgent != nil {
		rec.Device.UserAgent = *userAgent
	}
	if ip != nil {
		rec.Device.IP = net.ParseIP(*ip)
	}
	return rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
