package threads

import (
	"context"
	"errors"
	"time"

	"relay/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over relay.threads.
// The pool is owned by the caller.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore constructs a PostgresStore in schema (empty means the default).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("threads: nil pool")
	}
	if schema == "" {
		schema = pgutil.DefaultSchema
	}
	schema, err := pgutil.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, table: pgutil.Ident(schema, "threads")}, nil
}

var _ Store = (*PostgresStore)(nil)

const threadColumns = `id, user_id, title, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, t Thread) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (`+threadColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.UserID, t.Title, t.CreatedAt, t.UpdatedAt,
	)
	if pgutil.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) FindOwned(ctx context.Context, threadID, userID string) (Thread, error) {
	return scanThread(s.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM `+s.table+` WHERE id = $1 AND user_id = $2`,
		threadID, userID,
	))
}

func (s *PostgresStore) ListOwned(ctx context.Context, userID, before string, limit int) ([]Thread, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+threadColumns+` FROM `+s.table+`
			  WHERE user_id = $1
			  ORDER BY id DESC
			  LIMIT $2`,
			userID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+threadColumns+` FROM `+s.table+`
			  WHERE user_id = $1 AND id < $2
			  ORDER BY id DESC
			  LIMIT $3`,
			userID, before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Thread, 0, limit)
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Rename(ctx context.Context, threadID, userID, title string, now time.Time) (Thread, error) {
	return scanThread(s.pool.QueryRow(ctx,
		`UPDATE `+s.table+` SET title = $3, updated_at = $4
		  WHERE id = $1 AND user_id = $2
		RETURNING `+threadColumns,
		threadID, userID, title, now,
	))
}

func (s *PostgresStore) Delete(ctx context.Context, threadID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table+` WHERE id = $1 AND user_id = $2`, threadID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanThread(row pgx.Row) (Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}
	return t, nil
}
