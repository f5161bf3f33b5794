package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"relay/cmd/identity"
	"relay/cmd/internal/auth/session"
	"relay/cmd/internal/ingest"
	"relay/cmd/internal/threads"
)

// Sessions is the session authority as used by the HTTP layer.
type Sessions interface {
	Authenticate(ctx context.Context, now time.Time, email, plain string, dev session.DeviceContext) (session.Principal, session.Issued, error)
	Rotate(ctx context.Context, now time.Time, presented string, dev session.DeviceContext) (session.Issued, error)
	Revoke(ctx context.Context, now time.Time, presented string) error
	RevokeAll(ctx context.Context, now time.Time, userID string) (int64, error)
	VerifyAccess(token string, now time.Time) (session.AccessClaims, error)
}

// Users manages accounts.
type Users interface {
	Register(ctx context.Context, now time.Time, in identity.RegisterInput) (identity.User, error)
	Get(ctx context.Context, userID string) (identity.User, error)
	UpdatePreferences(ctx context.Context, now time.Time, userID string, patch identity.PreferencesPatch) (identity.User, error)
	UpdateProfile(ctx context.Context, now time.Time, userID string, patch identity.ProfilePatch) (identity.User, error)
	Delete(ctx context.Context, userID string) error
}

// Threads manages owned threads.
type Threads interface {
	Create(ctx context.Context, now time.Time, userID, title string) (threads.Thread, error)
	Get(ctx context.Context, userID, threadID string) (threads.Thread, error)
	List(ctx context.Context, userID, before string, limit int) ([]threads.Thread, error)
	Rename(ctx context.Context, now time.Time, userID, threadID, title string) (threads.Thread, error)
	Delete(ctx context.Context, userID, threadID string) error
	DeleteAll(ctx context.Context, userID string) (int, error)
}

// Messages reads and submits thread messages.
type Messages interface {
	Submit(ctx context.Context, in ingest.SubmitInput) (ingest.Message, error)
	GetMessage(ctx context.Context, userID, threadID, messageID string) (ingest.Message, error)
	ListMessages(ctx context.Context, userID, threadID, before string, limit int) ([]ingest.Message, error)
}

// Deps are the collaborators of a Handler. Audit may be nil.
type Deps struct {
	Sessions Sessions
	Users    Users
	Threads  Threads
	Messages Messages
	Audit    Auditor
	Log      *slog.Logger
}

// Handler serves relay's HTTP API.
type Handler struct {
	cfg      Config
	log      *slog.Logger
	sessions Sessions
	users    Users
	threads  Threads
	messages Messages
	audit    Auditor
	loginIP  *ipLimiter
	now      func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	audit := d.Audit
	if audit == nil {
		audit = LogAuditor{Log: log}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{
		cfg:      cfg,
		log:      log,
		sessions: d.Sessions,
		users:    d.Users,
		threads:  d.Threads,
		messages: d.Messages,
		audit:    audit,
		loginIP:  newIPLimiter(cfg.LoginIPBurst, cfg.LoginIPWindow),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/logout_all", h.authed(h.handleLogoutAll))

	mux.HandleFunc("GET /me", h.authed(h.handleMe))
	mux.HandleFunc("PATCH /me", h.authed(h.handleUpdateMe))
	mux.HandleFunc("DELETE /me", h.authed(h.handleDeleteMe))
	mux.HandleFunc("PATCH /me/preferences", h.authed(h.handlePreferences))

	mux.HandleFunc("POST /threads", h.authed(h.handleCreateThread))
	mux.HandleFunc("GET /threads", h.authed(h.handleListThreads))
	mux.HandleFunc("GET /threads/{id}", h.authed(h.handleGetThread))
	mux.HandleFunc("PATCH /threads/{id}", h.authed(h.handleRenameThread))
	mux.HandleFunc("DELETE /threads/{id}", h.authed(h.handleDeleteThread))
	mux.HandleFunc("GET /threads/{id}/messages", h.authed(h.handleListMessages))
	mux.HandleFunc("POST /threads/{id}/messages", h.authed(h.handlePostMessage))
	mux.HandleFunc("GET /threads/{id}/messages/{message_id}", h.authed(h.handleGetMessage))
}

type authedFunc func(w http.ResponseWriter, r *http.Request, claims session.AccessClaims)

// authed verifies the bearer token before calling next.
func (h *Handler) authed(next authedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.sessions.VerifyAccess(tok, h.now())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next(w, r, claims)
	}
}

func (h *Handler) record(r *http.Request, action, userID, sessionID string, meta map[string]any) {
	h.audit.Record(r.Context(), AuditEvent{
		Action:    action,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      meta,
		At:        h.now(),
	})
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func deviceFrom(r *http.Request, platform string, rememberMe, trustProxy bool) session.DeviceContext {
	return session.DeviceContext{
		Platform:   session.ParsePlatform(strings.ToLower(strings.TrimSpace(platform))),
		RememberMe: rememberMe,
		UserAgent:  strings.TrimSpace(r.UserAgent()),
		IP:         clientIP(r, trustProxy),
	}
}
