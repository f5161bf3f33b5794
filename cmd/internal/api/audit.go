package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"relay/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one security-relevant auth action.
type AuditEvent struct {
	Action    string
	UserID    string
	SessionID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// Auditor records auth events. Implementations must not fail the request.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

// LogAuditor writes audit events to the log. It is used without a database.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Record(ctx context.Context, ev AuditEvent) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"action", ev.Action}
	if ev.UserID != "" {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	if ev.SessionID != "" {
		attrs = append(attrs, "session_id", ev.SessionID)
	}
	if ev.IP != nil {
		attrs = append(attrs, "ip", ev.IP.String())
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, k, v)
	}
	log.InfoContext(ctx, "audit", attrs...)
}

// PostgresAuditor inserts audit events into <schema>.audit_log.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresAuditor builds an auditor over pool.
func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditor, error) {
	schema, err := pgutil.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{pool: pool, table: pgutil.Ident(schema, "audit_log"), log: log}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) {
	action := strings.TrimSpace(ev.Action)
	if a == nil || a.pool == nil || action == "" {
		return
	}

	var ip any
	if ev.IP != nil {
		ip = ev.IP.String()
	}
	var meta *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			meta = &s
		}
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, nilIfEmpty(ev.UserID), nilIfEmpty(ev.SessionID), action, at, ip, nilIfEmpty(ev.UserAgent), meta)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func nilIfEmpty(s string) any {
	if v := strings.TrimSpace(s); v != "" {
		return v
	}
	return nil
}
