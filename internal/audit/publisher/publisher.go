// Package publisher fans finalized audit entries out to Kafka for external
// consumers (compliance pipelines, analytics tagging). The audit store is
// the source of truth; publishing is at-least-once from its outbox columns,
// and consumers deduplicate on entry ID.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"aegis/internal/audit"
	"aegis/internal/audit/metrics"
	id "aegis/pkg/domain"
)

// Sink delivers a batch of entries to the fan-out transport. The Kafka sink
// is the production implementation; tests use a channel-backed fake.
type Sink interface {
	Publish(ctx context.Context, entries []*audit.Entry) error
	Close()
}

// Worker polls the store for finalized, unpublished entries and pushes them
// through the sink.
type Worker struct {
	store     audit.Store
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// WorkerOption configures the Worker.
type WorkerOption func(*Worker)

// WithInterval overrides the poll cadence.
func WithInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = interval }
}

// WithBatchSize overrides the per-poll batch limit.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) { w.batchSize = n }
}

// WithLogger sets a logger for publish failures.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker constructs a Worker.
func NewWorker(store audit.Store, sink Sink, opts ...WorkerOption) *Worker {
	w := &Worker{store: store, sink: sink, interval: 2 * time.Second, batchSize: 256}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. Failures are logged and retried
// on the next tick; entries stay in the outbox until published.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		entries, err := w.store.ListUnpublished(ctx, w.batchSize)
		if err != nil {
			if w.logger != nil {
				w.logger.WarnContext(ctx, "outbox poll failed", "error", err)
			}
			return
		}
		if len(entries) == 0 {
			return
		}

		if err := w.sink.Publish(ctx, entries); err != nil {
			w.metrics.IncPublishFailure()
			if w.logger != nil {
				w.logger.WarnContext(ctx, "audit publish failed, will retry",
					"batch", len(entries),
					"error", err,
				)
			}
			return
		}

		entryIDs := make([]id.EntryID, len(entries))
		for i, entry := range entries {
			entryIDs[i] = entry.ID
		}
		if err := w.store.MarkPublished(ctx, entryIDs); err != nil {
			if w.logger != nil {
				w.logger.WarnContext(ctx, "mark published failed", "error", err)
			}
			return
		}
		w.metrics.AddPublished(len(entries))

		if len(entries) < w.batchSize {
			return
		}
	}
}
