// Package janitor periodically clears storage the live system no longer needs:
// expired signaling messages and long-completed sessions.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SignalPurger drops signaling messages that expired before a cutoff.
type SignalPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// SessionPurger tears down sessions completed before a cutoff.
type SessionPurger interface {
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Options configures the sweep.
type Options struct {
	Interval time.Duration
	// Retention is how long a completed session is kept.
	Retention time.Duration
	Now       func() time.Time
}

// Janitor runs the periodic sweep.
type Janitor struct {
	signals  SignalPurger
	sessions SessionPurger
	opts     Options
	logger   *slog.Logger
}

// Result counts what one sweep removed.
type Result struct {
	Signals  int64
	Sessions int
}

// New creates a janitor.
func New(signals SignalPurger, sessions SessionPurger, opts Options, logger *slog.Logger) *Janitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{signals: signals, sessions: sessions, opts: opts, logger: logger}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	j.logger.Info("janitor started", "interval", j.opts.Interval, "retention", j.opts.Retention)
	for {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Warn("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs both purges concurrently and reports what they removed.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	now := j.opts.Now().UTC()
	var res Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := j.signals.PurgeExpired(gctx, now)
		if err != nil {
			return fmt.Errorf("purging signals: %w", err)
		}
		res.Signals = n
		return nil
	})
	g.Go(func() error {
		n, err := j.sessions.PurgeCompletedBefore(gctx, now.Add(-j.opts.Retention))
		if err != nil {
			return fmt.Errorf("purging sessions: %w", err)
		}
		res.Sessions = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	if res.Signals > 0 || res.Sessions > 0 {
		j.logger.Info("sweep finished", "signals", res.Signals, "sessions", res.Sessions)
	}
	return res, nil
}
