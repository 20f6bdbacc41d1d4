package engine

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the janitor runs when the config leaves
// it zero.
const DefaultSweepInterval = time.Minute

// Janitor periodically expires executions whose confirmation window elapsed
// while no in-process timer was armed (the process restarted underneath
// them) and evicts terminal executions past the retention window.
type Janitor struct {
	engine   *Engine
	interval time.Duration
}

// NewJanitor creates a janitor for the engine. interval <= 0 takes the
// default.
func NewJanitor(engine *Engine, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{engine: engine, interval: interval}
}

// Run sweeps until ctx is cancelled. Call it in its own goroutine.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: stale confirmations first, then eviction.
func (j *Janitor) Sweep(ctx context.Context) {
	j.expireStale(ctx)
	j.evict(ctx)
}

// expireStale cancels awaiting executions older than the confirmation
// timeout. The in-process timer normally handles this; the sweep covers
// executions restored from storage after a restart.
func (j *Janitor) expireStale(ctx context.Context) {
	waiting, err := j.engine.repo.ListByStatus(ctx, StatusAwaitingConfirmation)
	if err != nil {
		slog.Error("janitor: list awaiting executions", "err", err)
		return
	}
	cutoff := time.Now().Add(-j.engine.cfg.ConfirmationTimeout)
	for _, ex := range waiting {
		if ex.Timestamp.After(cutoff) {
			continue
		}
		j.engine.expire(ex.ID)
	}
}

// evict drops terminal executions past the retention window.
func (j *Janitor) evict(ctx context.Context) {
	cutoff := time.Now().Add(-j.engine.cfg.Retention)
	n, err := j.engine.repo.EvictBefore(ctx, cutoff)
	if err != nil {
		slog.Error("janitor: evict executions", "err", err)
		return
	}
	if n > 0 {
		slog.Info("evicted old executions", "count", n, "cutoff", cutoff)
	}
}
