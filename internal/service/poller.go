package service

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// PollerServiceOptions groups dependencies for PollerService.
type PollerServiceOptions struct {
	Tracker   *TrackerService // Required: job listing
	Status    *StatusService  // Required: poll-driven advancement
	Logger    *slog.Logger    // Optional: structured logger
	Interval  time.Duration   // Required: sweep interval
	BatchSize int             // Required: max jobs serviced per sweep
}

// PollerService periodically sweeps active jobs through StatusService.Poll,
// so jobs advance even when no caller is watching them: upstream completion
// gets recorded, claims happen, and stalled work gets resumed.
type PollerService struct {
	tracker   *TrackerService
	status    *StatusService
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewPollerService constructs a new PollerService.
func NewPollerService(opts PollerServiceOptions) (*PollerService, error) {
	if opts.Tracker == nil {
		return nil, errors.New("TrackerService is required")
	}
	if opts.Status == nil {
		return nil, errors.New("StatusService is required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.New("poll batch size must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "poller_service")
	}

	return &PollerService{
		tracker:   opts.Tracker,
		status:    opts.Status,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *PollerService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting poller service",
			"interval", s.interval,
			"batch_size", s.batchSize)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "poller service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep services one batch of active jobs. Per-job isolation: one job's poll
// failure never blocks the rest of the sweep.
func (s *PollerService) sweep(ctx context.Context) {
	jobs, err := s.tracker.ListActive(ctx, s.batchSize)
	if err != nil {
		if !isContextCancellation(err) && s.logger != nil {
			s.logger.ErrorContext(ctx, "list active jobs failed", "error", err)
		}
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if _, pollErr := s.status.Poll(ctx, job.Owner, job.ID); pollErr != nil {
			if isContextCancellation(pollErr) {
				return
			}
			if s.logger != nil {
				s.logger.WarnContext(ctx, "poll sweep failed for job", "id", job.ID, "error", pollErr)
			}
		}
	}
}
