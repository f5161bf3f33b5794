package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"relay/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "relay").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgutil.CheckSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgutil.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const userColumns = `u.id, u.email, u.username, u.chat_theme, u.dark_mode, u.created_at, u.updated_at`

// CreateUser inserts the user and its credentials in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgutil.Ident(s.schema, "users")
	creds := pgutil.Ident(s.schema, "user_credentials")

	_, err = tx.Exec(ctx,
		`INSERT INTO `+users+` (id, email, email_norm, username, username_norm, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		in.ID, in.Email, in.EmailNorm, in.Username, in.UsernameNorm, in.Now,
	)
	if err != nil {
		if c, ok := pgutil.UniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: conflictField(c)}
		}
		return User{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+creds+` (user_id, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
		in.ID, in.PasswordHash, in.Now,
	); err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	return User{
		ID:        in.ID,
		Email:     in.Email,
		Username:  in.Username,
		CreatedAt: in.Now,
		UpdatedAt: in.Now,
	}, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+pgutil.Ident(s.schema, "users")+` u WHERE u.id = $1`,
		userID,
	)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound("identity.GetUserByID")
	}
	return u, err
}

func (s *PostgresStore) GetCredentialsByEmail(ctx context.Context, emailNorm string) (Credentials, error) {
	var c Credentials
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, c.password_hash
		   FROM `+pgutil.Ident(s.schema, "users")+` u
		   JOIN `+pgutil.Ident(s.schema, "user_credentials")+` c ON c.user_id = u.id
		  WHERE u.email_norm = $1`,
		emailNorm,
	).Scan(
		&c.User.ID, &c.User.Email, &c.User.Username, &c.User.ChatTheme,
		&c.User.DarkMode, &c.User.CreatedAt, &c.User.UpdatedAt, &c.PasswordHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credentials{}, notFound("identity.GetCredentialsByEmail")
	}
	if err != nil {
		return Credentials{}, err
	}
	return c, nil
}

func (s *PostgresStore) UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch, now time.Time) (User, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE `+pgutil.Ident(s.schema, "users")+` u
		    SET chat_theme = COALESCE($2, u.chat_theme),
		        dark_mode  = COALESCE($3, u.dark_mode),
		        updated_at = $4
		  WHERE u.id = $1
		RETURNING `+userColumns,
		userID, patch.ChatTheme, patch.DarkMode, now,
	)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound("identity.UpdatePreferences")
	}
	return u, err
}

// UpdateProfile writes the patch in one statement; the unique indexes on
// email_norm and username_norm report conflicts.
func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, ch ProfileChange, now time.Time) (User, error) {
	const op = "identity.UpdateProfile"

	row := s.pool.QueryRow(ctx,
		`UPDATE `+pgutil.Ident(s.schema, "users")+` u
		    SET email         = COALESCE($2, u.email),
		        email_norm    = COALESCE($3, u.email_norm),
		        username      = CASE WHEN $4::boolean THEN $5::text ELSE u.username END,
		        username_norm = CASE WHEN $4::boolean THEN $6::text ELSE u.username_norm END,
		        chat_theme    = COALESCE($7, u.chat_theme),
		        dark_mode     = COALESCE($8, u.dark_mode),
		        updated_at    = $9
		  WHERE u.id = $1
		RETURNING `+userColumns,
		userID, ch.Email, ch.EmailNorm,
		ch.Username != nil, nullIfEmpty(ch.Username), ch.UsernameNorm,
		ch.Preferences.ChatTheme, ch.Preferences.DarkMode, now,
	)
	u, err := scanUser(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return User{}, notFound(op)
	case err != nil:
		if c, ok := pgutil.UniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: conflictField(c)}
		}
		return User{}, err
	}
	return u, nil
}

// DeleteUser removes the user row. Credentials, refresh tokens, threads and
// messages go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgutil.Ident(s.schema, "users")+` WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("identity.DeleteUser")
	}
	return nil
}

func nullIfEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.ChatTheme, &u.DarkMode, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// conflictField maps constraint names from the migrations to logical fields.
func conflictField(constraint string) string {
	switch {
	case strings.Contains(constraint, "email"):
		return "email"
	case strings.Contains(constraint, "username"):
		return "username"
	default:
		return "unique"
	}
}
