package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbApplicationName = "relay"
	dbStartupTimeout  = 3 * time.Second
	dbReadyTimeout    = 2 * time.Second
)

var errNoDatabaseURL = errors.New("db: RELAY_DATABASE_URL is empty")

// poolConfig maps relay settings onto a pgxpool config. MinConns above
// MaxConns is clamped down.
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	if cfg.DatabaseURL == "" {
		return nil, errNoDatabaseURL
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse RELAY_DATABASE_URL: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	switch {
	case cfg.DBMinConns > pcfg.MaxConns:
		pcfg.MinConns = pcfg.MaxConns
	case cfg.DBMinConns > 0:
		pcfg.MinConns = cfg.DBMinConns
	}

	rp := pcfg.ConnConfig.RuntimeParams
	if _, ok := rp["application_name"]; !ok {
		rp["application_name"] = dbApplicationName
	}
	return pcfg, nil
}

// OpenPool opens the pool shared by the Postgres stores. It fails unless a
// connection is acquired within dbStartupTimeout.
func OpenPool(ctx context.Context, cfg Config, log *slog.Logger) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := pingPool(ctx, pool, dbStartupTimeout); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.pool.ready",
		"host", pcfg.ConnConfig.Host,
		"database", pcfg.ConnConfig.Database,
		"max_conns", pcfg.MaxConns,
		"min_conns", pcfg.MinConns,
	)
	return pool, nil
}

// pingPool acquires and releases one connection within timeout.
func pingPool(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("db: acquire within %s: %w", timeout, err)
	}
	conn.Release()
	return nil
}
