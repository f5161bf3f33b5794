// Package app wires the relay server runtime: config, logging, stores,
// HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"relay/cmd/identity"
	"relay/cmd/internal/api"
	"relay/cmd/internal/auth/session"
	"relay/cmd/internal/generation"
	"relay/cmd/internal/ingest"
	"relay/cmd/internal/pgutil"
	"relay/cmd/internal/realtime"
	"relay/cmd/internal/threads"
	"relay/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// App is the relay server runtime. It owns the DB pool (if any), the metrics
// registry and the realtime registry.
type App struct {
	cfg Config
	log Logger

	pool    *pgxpool.Pool
	metrics *Metrics

	sessions *session.Service
	registry *realtime.Registry
	ws       *realtime.Gateway
	api      *api.Handler
}

// stores bundles the persistence layer for one run mode.
type stores struct {
	users    identity.Store
	sessions session.Store
	threads  threads.Store
	messages ingest.Store
	audit    api.Auditor

	// dropThread runs after a thread is deleted.
	dropThread threads.DeleteHook
}

// credentials adapts identity.Service to session.CredentialLookup.
type credentials struct{ users *identity.Service }

func (c credentials) LookupCredentials(ctx context.Context, email string) (session.Principal, string, error) {
	cr, err := c.users.LookupCredentials(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			return session.Principal{}, "", session.ErrPrincipalNotFound
		}
		return session.Principal{}, "", err
	}
	return session.Principal{UserID: cr.User.ID, Email: cr.User.Email}, cr.PasswordHash, nil
}

// New constructs a fully wired App. With an empty DatabaseURL every store is
// in memory and state is lost on exit.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	tokens, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	ingCfg, err := ingest.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	genCfg, err := generation.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	wsCfg, err := realtime.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := api.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, metrics: NewMetrics()}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	hasher := password.NewArgon2id(pwCfg)
	users := identity.NewService(st.users, hasher)

	codec, err := session.NewTokenCodec(sessCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sessions, err = session.NewService(sessCfg, session.Deps{
		Store:       st.sessions,
		Codec:       codec,
		Credentials: credentials{users: users},
		Passwords:   hasher,
		Tokens:      tokens,
		Log:         log,
		Observer:    a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var hooks []threads.DeleteHook
	if st.dropThread != nil {
		hooks = append(hooks, st.dropThread)
	}
	threadSvc := threads.NewService(st.threads, log, hooks...)

	engine, err := generation.New(genCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	engine = generation.WithTiming(engine, a.metrics.ObserveGeneration)

	msgs := ingest.NewService(ingCfg, st.messages, threadSvc.Guard(), engine, log,
		ingest.WithObserver(a.metrics))

	a.registry = realtime.NewRegistry(log, a.metrics)
	a.ws = realtime.NewGateway(wsCfg, a.registry, a.sessions, threadSvc.Guard(), msgs, log)

	a.api = api.NewHandler(apiCfg, api.Deps{
		Sessions: a.sessions,
		Users:    users,
		Threads:  threadSvc,
		Messages: msgs,
		Audit:    st.audit,
		Log:      log,
	})

	log.Info("app.wired",
		"db_enabled", a.pool != nil,
		"token_format", string(sessCfg.TokenFormat),
		"token_hmac", tokens.Keyed(),
		"engine", genCfg.Engine,
	)
	return a, nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		msgs := ingest.NewMemoryStore()
		return stores{
			users:      identity.NewMemoryStore(),
			sessions:   session.NewMemoryStore(),
			threads:    threads.NewMemoryStore(),
			messages:   msgs,
			audit:      api.LogAuditor{Log: a.log},
			dropThread: msgs.DeleteThread,
		}, nil
	}

	pool, err := OpenPool(ctx, a.cfg, a.log)
	if err != nil {
		return stores{}, err
	}
	a.pool = pool

	if a.cfg.DBMigrate {
		if err := Migrate(ctx, pool, a.log); err != nil {
			a.Close()
			return stores{}, err
		}
	}

	st, err := postgresStores(pool, pgutil.DefaultSchema, a.log)
	if err != nil {
		a.Close()
		return stores{}, err
	}
	a.log.Info("db.enabled.postgres_store")
	return st, nil
}

func postgresStores(pool *pgxpool.Pool, schema string, log Logger) (stores, error) {
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	sess, err := session.NewPostgresStore(pool, schema)
	if err != nil {
		return stores{}, err
	}
	ths, err := threads.NewPostgresStore(pool, schema)
	if err != nil {
		return stores{}, err
	}
	msgs, err := ingest.NewPostgresStore(pool, schema)
	if err != nil {
		return stores{}, err
	}
	audit, err := api.NewPostgresAuditor(pool, schema, log)
	if err != nil {
		return stores{}, err
	}
	return stores{
		users:      users,
		sessions:   sess,
		threads:    ths,
		messages:   msgs,
		audit:      audit,
		dropThread: msgs.DeleteThread,
	}, nil
}

// Close releases the DB pool. It is safe to call more than once.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// Run serves HTTP until ctx is canceled or the server fails, then shuts
// down within cfg.ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		a.log.Info("server.stopped", "rooms_open", a.registry.Rooms())
		return nil
	})

	return g.Wait()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
