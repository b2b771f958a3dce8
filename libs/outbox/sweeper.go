package outbox

import (
	"context"
	"log/slog"
	"time"
)

// RetentionTarget names a table whose aged-out rows the sweeper deletes.
type RetentionTarget struct {
	Name         string
	DeleteBefore func(ctx context.Context, cutoff time.Time) (int64, error)
}

type leaser interface {
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}

// Sweeper deletes terminal outbox rows and processed-event ledger rows older
// than the retention window. Deletes are idempotent, so concurrent sweeps are
// harmless; the optional lease just keeps replicas from duplicating the work.
type Sweeper struct {
	lock      leaser
	targets   []RetentionTarget
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

type SweeperConfig struct {
	Retention time.Duration // how long rows are kept, default 7 days
	Interval  time.Duration // how often to sweep, default 24h
}

// NewSweeper builds a sweeper over the given targets. lock may be nil for
// single-instance deployments.
func NewSweeper(lock leaser, logger *slog.Logger, cfg SweeperConfig, targets ...RetentionTarget) *Sweeper {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Sweeper{
		lock:      lock,
		targets:   targets,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		logger:    logger,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	// One sweep shortly after boot, then on the daily interval.
	first := time.NewTimer(time.Minute)
	defer first.Stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-first.C:
			s.sweep(ctx)
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if s.lock != nil {
		release, acquired, err := s.lock.TryAcquire(ctx)
		if err != nil {
			s.logger.Warn("retention sweep lock error", "err", err)
			return
		}
		if !acquired {
			s.logger.Debug("retention sweep skipped, another instance holds the lease")
			return
		}
		defer release()
	}

	cutoff := Cutoff(time.Now().UTC(), s.retention)
	for _, target := range s.targets {
		deleted, err := target.DeleteBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error("retention sweep failed", "target", target.Name, "err", err)
			continue
		}
		s.logger.Info("retention sweep done", "target", target.Name, "deleted", deleted, "cutoff", cutoff)
	}
}

// Cutoff is the oldest creation time a row may have and still be kept.
func Cutoff(now time.Time, retention time.Duration) time.Time {
	return now.Add(-retention)
}
