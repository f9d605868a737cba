package location

import (
	"context"
	"log/slog"
	"time"
)

// Reaper removes presence records that have not been refreshed within the
// retention window. Route cache entries expire on their own.
type Reaper struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	log       *slog.Logger
	onSweep   func(removed int)
}

// HistoryPruner is implemented by history recorders that can drop snapshots
// older than the retention window along with the presence records.
type HistoryPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type ReaperOption func(*Reaper)

// WithSweepHook is called after every successful sweep with the number of
// presence records removed.
func WithSweepHook(fn func(removed int)) ReaperOption {
	return func(r *Reaper) { r.onSweep = fn }
}

func NewReaper(store *Store, retention, interval time.Duration, log *slog.Logger, opts ...ReaperOption) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	r := &Reaper{store: store, retention: retention, interval: interval, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Warn("presence sweep failed", "err", err)
			}
		}
	}
}

// Sweep performs one pass and returns how many records were removed.
// Workers holding a claim are kept because their order still references them.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.store.now().Add(-r.retention)
	ids, err := r.store.StaleWorkers(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		ok, err := r.store.RemoveIfStale(ctx, id, cutoff)
		if err != nil {
			r.log.Warn("presence removal failed", "worker_id", id, "err", err)
			continue
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		r.log.Info("stale presence removed", "count", removed, "cutoff", cutoff)
	}
	if p, ok := r.store.history.(HistoryPruner); ok {
		if n, err := p.Prune(ctx, cutoff); err != nil {
			r.log.Warn("presence history prune failed", "err", err)
		} else if n > 0 {
			r.log.Info("presence history pruned", "count", n, "cutoff", cutoff)
		}
	}
	if r.onSweep != nil {
		r.onSweep(removed)
	}
	return removed, nil
}
