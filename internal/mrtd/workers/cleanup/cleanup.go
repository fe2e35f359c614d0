// Package cleanup periodically drops expired scan results from stores that do
// not expire entries on their own.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"mrtdreader/internal/mrtd/metrics"
)

// DefaultInterval is the pause between sweeps.
const DefaultInterval = time.Minute

// Result describes one sweep.
type Result struct {
	Removed  int
	Duration time.Duration
}

// Sweeper removes expired entries and reports how many it removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service runs the sweeps.
type Service struct {
	store    Sweeper
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

func New(store Sweeper, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   slog.Default(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps every interval until ctx is done, then returns ctx.Err().
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error("result_cleanup_failed", "error", err)
				continue
			}
			if res.Removed > 0 {
				s.logger.Info("result_cleanup_completed",
					"removed", res.Removed,
					"duration_ms", res.Duration.Milliseconds(),
				)
			}
		case <-ctx.Done():
			s.logger.Info("result cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	removed, err := s.store.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordResultsExpired(removed)
	return &Result{Removed: removed, Duration: time.Since(start)}, nil
}
