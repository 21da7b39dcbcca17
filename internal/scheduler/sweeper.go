package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Pruner deletes terminal jobs, their run records, and aged snapshots.
type Pruner interface {
	PruneTerminalJobs(cutoff time.Time) (int, error)
}

// Sweeper periodically removes terminal jobs older than the retention window.
type Sweeper struct {
	store     Pruner
	retention time.Duration
	every     time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper builds a sweeper. A non-positive retention disables pruning
// entirely; Run then returns immediately.
func NewSweeper(store Pruner, retention time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: retention,
		every:     time.Hour,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Run sweeps once at startup and then on a fixed cadence until ctx is
// cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	w.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Sweeper) sweep() {
	cutoff := w.now().UTC().Add(-w.retention)
	n, err := w.store.PruneTerminalJobs(cutoff)
	if err != nil {
		w.logger.Error("pruning terminal jobs failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("pruned terminal jobs", "count", n, "cutoff", cutoff)
	}
}
