package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxfix/internal/history"
)

const defaultSaveTimeout = 10 * time.Second

// HistoryGuard performs the background history saves of every session. A
// failed save is logged and returned to the caller but never retried; the
// guard stays degraded until the next save succeeds.
//
// One HistoryGuard is shared by all sessions of a process. It is safe for
// concurrent use.
type HistoryGuard struct {
	store   history.Store
	timeout time.Duration
	log     *slog.Logger

	degraded atomic.Bool
	failures atomic.Int64
}

// NewHistoryGuard wraps store. A non-positive timeout selects 10s.
func NewHistoryGuard(store history.Store, timeout time.Duration, log *slog.Logger) *HistoryGuard {
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &HistoryGuard{store: store, timeout: timeout, log: log}
}

// Save appends rec. It is detached from ctx's cancellation so that a
// session torn down mid-save still persists its last correction, but it is
// bounded by the guard's timeout.
func (g *HistoryGuard) Save(ctx context.Context, rec history.Record) (history.Record, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	saved, err := g.store.Append(ctx, rec)
	if err != nil {
		g.degraded.Store(true)
		g.failures.Add(1)
		g.log.Warn("history save failed",
			"session_id", rec.SessionID,
			"user_email", rec.Email,
			"err", err,
		)
		return history.Record{}, err
	}
	g.degraded.Store(false)
	return saved, nil
}

// IsDegraded reports whether the most recent save failed.
func (g *HistoryGuard) IsDegraded() bool {
	return g.degraded.Load()
}

// Failures returns the number of failed saves since construction.
func (g *HistoryGuard) Failures() int64 {
	return g.failures.Load()
}

// Check is a readiness probe. A healthy guard always passes. A degraded one
// passes only once the store answers a ping again.
func (g *HistoryGuard) Check(ctx context.Context) error {
	if !g.IsDegraded() {
		return nil
	}
	if err := g.store.Ping(ctx); err != nil {
		return fmt.Errorf("history degraded: %w", err)
	}
	g.degraded.Store(false)
	return nil
}
