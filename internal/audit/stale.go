package audit

import (
	"context"
	"log/slog"
	"time"

	"aegis/internal/audit/metrics"
)

// Scanner sweeps pending entries that never received a finalize and moves
// them into the stale terminal state so they surface as data-quality
// findings instead of silently lingering.
type Scanner struct {
	store    Store
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewScanner constructs a Scanner. window is how long an entry may stay
// pending before it is considered abandoned; interval is the sweep cadence.
func NewScanner(store Store, window, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Scanner {
	return &Scanner{store: store, window: window, interval: interval, logger: logger, metrics: m}
}

// Run sweeps until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scanner) sweep(ctx context.Context) {
	now := time.Now()
	marked, err := s.store.MarkStale(ctx, now.Add(-s.window), now)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "stale audit sweep failed", "error", err)
		}
		return
	}
	if marked > 0 {
		s.metrics.AddStaleMarked(marked)
		if s.logger != nil {
			s.logger.WarnContext(ctx, "pending audit entries went stale",
				"count", marked,
				"window", s.window.String(),
			)
		}
	}
}
