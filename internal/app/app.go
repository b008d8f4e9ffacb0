// Package app wires all VoxFix subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the stores and builds
// the session manager, Run serves HTTP until its context ends, and Shutdown
// tears everything down in reverse order.
//
// For testing, inject in-memory implementations via functional options
// (WithHistoryStore, WithAccountStore, ...). When an option is not provided,
// New creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxfix/internal/account"
	accountpg "github.com/MrWong99/voxfix/internal/account/postgres"
	accountsqlite "github.com/MrWong99/voxfix/internal/account/sqlite"
	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/feedback"
	"github.com/MrWong99/voxfix/internal/health"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/history/memory"
	historysqlite "github.com/MrWong99/voxfix/internal/history/sqlite"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/resilience"
	"github.com/MrWong99/voxfix/internal/session"
	"github.com/MrWong99/voxfix/pkg/provider/llm"
	"github.com/MrWong99/voxfix/pkg/provider/stt"
	"github.com/MrWong99/voxfix/pkg/provider/tts"
)

// Providers holds the external services. Correction is required; a nil LLM
// disables /generate_response, and nil STT or TTS leaves sessions without
// voice capture or playback.
type Providers struct {
	Correction *correction.Guarded
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	registry  *config.Registry
	metrics   *observe.Metrics

	history    history.Store
	guard      *session.HistoryGuard
	accounts   account.Store
	users      *account.Service
	classifier *feedback.Classifier
	sessions   *SessionManager
	health     *health.Handler

	configPath string

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of opening one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithAccountStore injects an account store instead of opening one from config.
func WithAccountStore(s account.Store) Option {
	return func(a *App) { a.accounts = s }
}

// WithRegistry supplies the history store factories.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets a config reload change the log level of the handler
// that owns v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch reloads path while Run is active. Log level and playback
// changes apply live; other changes are logged as needing a restart.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New creates an App by opening the stores and wiring the session manager.
// On error, everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Correction == nil {
		return nil, errors.New("app: a correction client is required")
	}
	a := &App{
		cfg:        cfg,
		providers:  providers,
		log:        slog.Default(),
		classifier: feedback.New(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initHistory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initAccounts(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init accounts: %w", err)
	}

	a.guard = session.NewHistoryGuard(a.history, cfg.History.SaveTimeout, a.log)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Client:      providers.Correction,
		STT:         providers.STT,
		TTS:         providers.TTS,
		History:     a.guard,
		Classifier:  a.classifier,
		Metrics:     a.metrics,
		Logger:      a.log,
		Playback:    cfg.Playback,
		Capture:     cfg.Capture,
		IdleTimeout: cfg.Server.SessionIdleTimeout,
	})
	a.closers = append(a.closers, a.sessions.Close)

	a.health = health.New(
		health.Checker{Name: "correction", Check: a.checkCorrection},
		health.Checker{Name: "history", Check: a.guard.Check, Optional: true},
	)
	return a, nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		a.history = history.Instrument(a.history, "injected", a.metrics)
		return nil
	}
	backend := a.cfg.History.Backend
	if a.registry == nil || backend == config.BackendMemory {
		a.history = history.Instrument(memory.New(), config.BackendMemory, a.metrics)
		return nil
	}
	store, closeFn, err := a.registry.OpenHistory(ctx, a.cfg.History)
	if err != nil {
		return err
	}
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}
	a.history = history.Instrument(store, backend, a.metrics)
	a.log.Info("history store opened", "backend", backend)
	return nil
}

func (a *App) initAccounts(ctx context.Context) error {
	if a.accounts == nil {
		switch a.cfg.Accounts.Backend {
		case config.BackendPostgres:
			pool, err := pgxpool.New(ctx, a.cfg.Accounts.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			a.closers = append(a.closers, func() error { pool.Close(); return nil })
			store := accountpg.New(pool)
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			a.accounts = store
		case config.BackendSQLite:
			db, err := historysqlite.OpenDB(ctx, a.cfg.Accounts.DSN)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, db.Close)
			store, err := accountsqlite.New(ctx, db)
			if err != nil {
				return err
			}
			a.accounts = store
		default:
			a.accounts = account.NewMemoryStore()
		}
	}

	var opts []account.Option
	if cost := a.cfg.Accounts.BcryptCost; cost != 0 {
		opts = append(opts, account.WithCost(cost))
	}
	opts = append(opts, account.WithLogger(a.log))
	a.users = account.NewService(a.accounts, opts...)
	return nil
}

// checkCorrection fails only when every correction backend's breaker is open.
func (a *App) checkCorrection(context.Context) error {
	g := a.providers.Correction
	for _, name := range g.Backends() {
		if b := g.Breaker(name); b == nil || b.State() != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("all correction backends are unavailable")
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Corrector returns the guarded correction client.
func (a *App) Corrector() correction.Client { return a.providers.Correction }

// LLM returns the language model, or nil when none is configured.
func (a *App) LLM() llm.Provider { return a.providers.LLM }

// History returns the instrumented history store.
func (a *App) History() history.Store { return a.history }

// Accounts returns the signup and login service.
func (a *App) Accounts() *account.Service { return a.users }

// Classifier returns the change classifier shared by all sessions.
func (a *App) Classifier() *feedback.Classifier { return a.classifier }

// Sessions returns the live session registry.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Health returns the liveness and readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// Metrics returns the metrics sink.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Run serves handler on the configured address until ctx is cancelled or
// the listener fails. It also reaps idle sessions and, when enabled,
// watches the config file. Run does not call Shutdown.
func (a *App) Run(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, config.WithWatcherLogger(a.log))
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		go w.Run(runCtx)
	}
	go a.sessions.Run(runCtx)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	a.log.Info("http server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return ctx.Err()
}

func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PlaybackChanged {
		a.sessions.SetPlayback(d.NewPlayback)
		a.log.Info("playback settings changed; new sessions use them")
	}
	if len(d.Restart) > 0 {
		a.log.Warn("config changes need a restart", "sections", d.Restart)
	}
}

// Shutdown closes all sessions, waiting for their pending history saves,
// then the stores in reverse open order. If ctx expires first the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		done := make(chan error, 1)
		go func() { done <- a.closeAll() }()
		select {
		case err := <-done:
			shutdownErr = err
			a.log.Info("shutdown complete")
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded")
			shutdownErr = ctx.Err()
		}
	})
	return shutdownErr
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("closer error", "index", i, "err", err)
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
