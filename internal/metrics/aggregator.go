package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultRetention = 7 * 24 * time.Hour

type store interface {
	SaveSnapshot(ctx context.Context, snap Snapshot, at time.Time) error
	DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Aggregator periodically persists the collector counters and prunes old rows
type Aggregator struct {
	repo      store
	collector *Collector
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	done      chan struct{}
	stopOnce  sync.Once
}

func NewAggregator(repo store, collector *Collector, logger *slog.Logger, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Aggregator{
		repo:      repo,
		collector: collector,
		logger:    logger,
		interval:  interval,
		retention: DefaultRetention,
		done:      make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called, flushing on every tick
// and once more on the way out.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("metrics aggregator started", "interval", a.interval)

	for {
		select {
		case <-ctx.Done():
			a.final()
			return
		case <-a.done:
			a.final()
			return
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// Stop gracefully shuts down the aggregator
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

func (a *Aggregator) final() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.flush(ctx)
	a.logger.Info("metrics aggregator stopped")
}

func (a *Aggregator) flush(ctx context.Context) {
	snap := a.collector.Snapshot()
	if err := a.repo.SaveSnapshot(ctx, snap, time.Now().UTC()); err != nil {
		a.logger.Error("failed to save metrics", "error", err)
	}

	deleted, err := a.repo.DeleteOlderThan(ctx, a.retention)
	if err != nil {
		a.logger.Error("failed to delete old metrics", "error", err)
	} else if deleted > 0 {
		a.logger.Info("deleted old metrics", "count", deleted)
	}
}
