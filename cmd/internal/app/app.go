// Package app wires the betsweb server runtime: config, logging, the
// session ledger, the notify WebSocket gateway, and the admin HTTP
// surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"betsweb/cmd/identity"
	"betsweb/cmd/internal/admin"
	"betsweb/cmd/internal/notify"
	"betsweb/cmd/internal/session"

	"github.com/jackc/pgx/v5/pgxpool"
)

// staleLister is the optional store capability the server-side sweep
// needs. Both session stores implement it.
type staleLister interface {
	StaleUIDs(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// App is the betsweb server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessCfg session.Config
	store   session.Store
	ledger  *session.Ledger

	gateway *notify.Gateway
	admin   *admin.Handler
}

// New constructs a fully wired App from config and logger. With no
// database URL the app runs on in-memory stores (dev mode).
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	var (
		dbPool    *pgxpool.Pool
		dbEnabled bool
	)
	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		dbPool, dbEnabled = pool, true
		log.Info("db.enabled.postgres_store")
	} else {
		log.Info("db.disabled.inmemory_store")
	}

	icfg, err := identity.LoadConfigFromEnv()
	if err != nil {
		closePool(dbPool)
		return nil, err
	}
	tokens, err := identity.NewPasetoV4PublicManager(icfg)
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	var idp identity.Provider
	if dbEnabled {
		idp, err = identity.NewPostgresProvider(log, dbPool, tokens)
		if err != nil {
			closePool(dbPool)
			return nil, err
		}
	} else {
		idp = identity.NewMemoryProvider(tokens)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	var store session.Store
	if dbEnabled {
		store, err = session.NewPostgresStore(dbPool, sessCfg.TxAttempts)
		if err != nil {
			closePool(dbPool)
			return nil, err
		}
	} else {
		store = session.NewMemoryStore()
	}

	ledger := session.NewLedger(log, sessCfg, store, idp)
	gateway := notify.NewGateway(log, notify.NewRegistry(log))

	adminHandler, err := admin.NewHandler(log, ledger, idp, gateway)
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		sessCfg:   sessCfg,
		store:     store,
		ledger:    ledger,
		gateway:   gateway,
		admin:     adminHandler,
	}, nil
}

// Run starts the HTTP server and the stale-session sweep, blocking until
// context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gateway, a.admin)

	handler := WithRequestLogging(WithCORS(mux, a.cfg, a.log), a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.runSweep(sweepCtx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	closePool(a.dbPool)

	a.log.Info("server.stopped")
	return nil
}

// runSweep periodically reconciles abandoned sessions whose heartbeats
// went quiet, the authoritative backstop behind the unload beacon.
func (a *App) runSweep(ctx context.Context) {
	if a.cfg.ReconcileInterval <= 0 {
		return
	}
	if _, ok := a.store.(staleLister); !ok {
		return
	}

	ticker := time.NewTicker(a.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepStale(ctx)
		}
	}
}

func (a *App) sweepStale(ctx context.Context) {
	lister, ok := a.store.(staleLister)
	if !ok {
		return
	}

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	uids, err := lister.StaleUIDs(sweepCtx, a.sessCfg.StaleTimeout)
	if err != nil {
		a.log.Warn("sweep.list.fail", "err", err)
		return
	}

	total := 0
	for _, uid := range uids {
		removed, err := a.ledger.ReconcileStale(sweepCtx, uid, 0)
		if err != nil {
			a.log.Warn("sweep.reconcile.fail", "uid", uid, "err", err)
			continue
		}
		total += removed
	}

	if total > 0 {
		a.log.Info("sweep.reconciled", "users", len(uids), "removed", total)
	}
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
