package ingest

import (
	"context"
	"errors"
	"fmt"

	"relay/cmd/internal/pgutil"
	"relay/cmd/internal/threads"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by relay.messages. Messages of a deleted
// thread are removed by the foreign key cascade.
//
// The pool is owned by the caller.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore constructs a PostgresStore in schema (empty means the default).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("ingest: nil pool")
	}
	if schema == "" {
		schema = pgutil.DefaultSchema
	}
	schema, err := pgutil.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, table: pgutil.Ident(schema, "messages")}, nil
}

var _ Store = (*PostgresStore)(nil)

const messageColumns = `id, thread_id, sender_type, content, client_message_id,
	parent_message_id, response_to_client_message_id, created_at`

func (s *PostgresStore) FindUserMessage(ctx context.Context, threadID, key string) (Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table+`
		  WHERE thread_id = $1 AND client_message_id = $2 AND sender_type = 'user'`,
		threadID, key))
}

func (s *PostgresStore) FindAssistantReply(ctx context.Context, threadID, key string) (Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table+`
		  WHERE thread_id = $1 AND response_to_client_message_id = $2 AND sender_type = 'assistant'`,
		threadID, key))
}

func (s *PostgresStore) GetMessage(ctx context.Context, threadID, messageID string) (Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table+` WHERE thread_id = $1 AND id = $2`,
		threadID, messageID))
}

func (s *PostgresStore) InsertUserMessage(ctx context.Context, m Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ThreadID, string(m.SenderType), m.Content, m.ClientMessageID,
		m.ParentMessageID, m.ResponseToClientMessageID, m.CreatedAt,
	)
	return classify(err)
}

func (s *PostgresStore) CommitAssistantReply(ctx context.Context, reply Message) (Message, bool, error) {
	if reply.ParentMessageID == nil || reply.ResponseToClientMessageID == nil {
		return Message{}, false, errors.New("ingest: reply without parent")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the parent so a concurrent thread delete cannot slip in between.
	var parentID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM `+s.table+` WHERE id = $1 AND thread_id = $2 FOR UPDATE`,
		*reply.ParentMessageID, reply.ThreadID,
	).Scan(&parentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, ErrNoMessage
	}
	if err != nil {
		return Message{}, false, classify(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.table+` (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reply.ID, reply.ThreadID, string(reply.SenderType), reply.Content, reply.ClientMessageID,
		reply.ParentMessageID, reply.ResponseToClientMessageID, reply.CreatedAt,
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrDuplicate) {
			_ = tx.Rollback(ctx)
			existing, ferr := s.FindAssistantReply(ctx, reply.ThreadID, *reply.ResponseToClientMessageID)
			if ferr != nil {
				return Message{}, false, fmt.Errorf("ingest: reread reply: %w", ferr)
			}
			return existing, true, nil
		}
		return Message{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, false, classify(err)
	}
	return reply, false, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, threadID, before string, limit int) ([]Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+s.table+`
			  WHERE thread_id = $1
			  ORDER BY id DESC
			  LIMIT $2`,
			threadID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+s.table+`
			  WHERE thread_id = $1 AND id < $2
			  ORDER BY id DESC
			  LIMIT $3`,
			threadID, before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Queried newest first; callers get oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteThread is a no-op: the thread row's ON DELETE CASCADE removes messages.
func (s *PostgresStore) DeleteThread(context.Context, string) error { return nil }

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m      Message
		sender string
	)
	err := row.Scan(&m.ID, &m.ThreadID, &sender, &m.Content, &m.ClientMessageID,
		&m.ParentMessageID, &m.ResponseToClientMessageID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNoMessage
	}
	if err != nil {
		return Message{}, err
	}
	m.SenderType = SenderType(sender)
	return m, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := pgutil.UniqueViolation(err); ok {
		return ErrDuplicate
	}
	if pgutil.IsForeignKeyViolation(err) {
		return threads.ErrNotFound
	}
	if pgutil.IsRetryable(err) {
		return fmt.Errorf("%w: %w", ErrConflictRetry, err)
	}
	return err
}
