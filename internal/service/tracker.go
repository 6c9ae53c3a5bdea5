package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adsync/adsync/internal/core"
	domainjob "github.com/adsync/adsync/internal/domain/job"
	"github.com/adsync/adsync/internal/domain/model"
	"github.com/adsync/adsync/internal/observability/metrics"
	"github.com/adsync/adsync/internal/observability/notify"
	"github.com/adsync/adsync/internal/observability/statsd"
	"github.com/adsync/adsync/internal/service/failurenotifier"
)

// defaultStaleThreshold is used when no staleness policy is supplied.
const defaultStaleThreshold = 2 * time.Minute

// TrackerServiceOptions groups dependencies for TrackerService.
type TrackerServiceOptions struct {
	Store           core.JobStore              // Required: durable job store
	Logger          *slog.Logger               // Optional: structured logger
	Metrics         statsd.Sink                // Optional: lifecycle metric sink
	FailureNotifier *failurenotifier.Service   // Optional: failure fan-out
	Staleness       *domainjob.StalenessPolicy // Optional: override default staleness policy
	StaleThreshold  time.Duration              // Optional: build a policy from a bare threshold
}

// TrackerService owns the durable job state machine: every status transition,
// heartbeat, and the claim/resume compare-and-set operations go through it.
// It adds validation, logging, and lifecycle metrics on top of the store; the
// atomicity itself lives in the store's conditional updates.
type TrackerService struct {
	store     core.JobStore
	staleness *domainjob.StalenessPolicy
	logger    *slog.Logger
	metrics   statsd.Sink
	notifier  *failurenotifier.Service
}

// NewTrackerService constructs a new TrackerService.
func NewTrackerService(opts TrackerServiceOptions) (*TrackerService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}

	staleness := opts.Staleness
	if staleness == nil {
		threshold := opts.StaleThreshold
		if threshold <= 0 {
			threshold = defaultStaleThreshold
		}
		var err error
		staleness, err = domainjob.NewStalenessPolicy(threshold)
		if err != nil {
			return nil, fmt.Errorf("create staleness policy: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "tracker_service")
	}

	return &TrackerService{
		store:     opts.Store,
		staleness: staleness,
		logger:    logger,
		metrics:   opts.Metrics,
		notifier:  opts.FailureNotifier,
	}, nil
}

// MustNewTrackerService constructs a new TrackerService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewTrackerService(opts TrackerServiceOptions) *TrackerService {
	svc, err := NewTrackerService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create TrackerService: %v", err))
	}
	return svc
}

var _ core.ProgressReporter = (*TrackerService)(nil)

// CreateJob records a newly submitted report as a tracked job.
func (s *TrackerService) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	job, err := s.store.Create(ctx, req)
	if err != nil {
		s.emit(metrics.TransitionCreate, metrics.ResultError, err)
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.emit(metrics.TransitionCreate, metrics.ResultSuccess, nil)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job created",
			"id", job.ID,
			"owner", job.Owner,
			"collection_id", job.Config.CollectionID)
	}
	return job, nil
}

// GetJob returns a job by id without owner scoping. Internal use only.
func (s *TrackerService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// GetForOwner returns a job by id scoped to the requesting owner.
func (s *TrackerService) GetForOwner(ctx context.Context, owner, id string) (*model.Job, error) {
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	job, err := s.store.GetForOwner(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s for owner: %w", id, err)
	}
	return job, nil
}

// ListActive returns non-terminal jobs, least recently updated first.
func (s *TrackerService) ListActive(ctx context.Context, limit int) ([]*model.Job, error) {
	jobs, err := s.store.ListActive(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	return jobs, nil
}

// Heartbeat records liveness plus a progress/details patch. Idempotent:
// re-sending the same heartbeat only moves updated_at. A heartbeat against a
// terminal job is rejected by the store and surfaces as ErrJobNotActive,
// which workers treat as a stop signal.
func (s *TrackerService) Heartbeat(ctx context.Context, params core.HeartbeatParams) error {
	if !params.Status.Valid() {
		return fmt.Errorf("invalid heartbeat status: %s", params.Status)
	}
	if params.Status.Terminal() {
		return fmt.Errorf("heartbeat cannot set terminal status %s", params.Status)
	}

	if err := s.store.Heartbeat(ctx, params); err != nil {
		return fmt.Errorf("heartbeat job %s: %w", params.JobID, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job heartbeat",
			"id", params.JobID,
			"status", params.Status,
			"progress", params.Progress)
	}
	return nil
}

// MarkUpstreamDone transitions upstream_running -> upstream_done.
func (s *TrackerService) MarkUpstreamDone(ctx context.Context, id string) (bool, error) {
	done, err := s.store.MarkUpstreamDone(ctx, id)
	if err != nil {
		s.emit(metrics.TransitionUpstreamDone, metrics.ResultError, err)
		return false, fmt.Errorf("mark upstream done %s: %w", id, err)
	}

	if done {
		s.emit(metrics.TransitionUpstreamDone, metrics.ResultSuccess, nil)
		if s.logger != nil {
			s.logger.InfoContext(ctx, "upstream report ready", "id", id)
		}
	} else {
		s.emit(metrics.TransitionUpstreamDone, metrics.ResultNoop, nil)
	}
	return done, nil
}

// TryClaimProcessing attempts to claim an upstream_done job for processing.
// Exactly one concurrent caller wins; everyone else gets false, nil.
func (s *TrackerService) TryClaimProcessing(ctx context.Context, id string) (bool, error) {
	won, err := s.store.TryClaimProcessing(ctx, id)
	if err != nil {
		s.emit(metrics.TransitionClaim, metrics.ResultError, err)
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}

	if won {
		s.emit(metrics.TransitionClaim, metrics.ResultSuccess, nil)
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job claimed for processing", "id", id)
		}
	} else {
		s.emit(metrics.TransitionClaim, metrics.ResultNoop, nil)
	}
	return won, nil
}

// IsStale reports whether an actively held job has gone silent long enough
// to attempt resumption.
func (s *TrackerService) IsStale(job *model.Job, now time.Time) bool {
	return s.staleness.IsStale(job, now)
}

// TryResumeStale attempts to take over a stale processing/persisting job.
// The store predicate re-checks status, so a job cancelled after the caller's
// staleness check is never revived.
func (s *TrackerService) TryResumeStale(ctx context.Context, id string) (bool, error) {
	resumed, err := s.store.TryResumeStale(ctx, id, s.staleness.Threshold())
	if err != nil {
		s.emit(metrics.TransitionResume, metrics.ResultError, err)
		return false, fmt.Errorf("resume stale job %s: %w", id, err)
	}

	if resumed {
		s.emit(metrics.TransitionResume, metrics.ResultSuccess, nil)
		if s.logger != nil {
			s.logger.WarnContext(ctx, "resuming stale job", "id", id)
		}
	} else {
		s.emit(metrics.TransitionResume, metrics.ResultNoop, nil)
	}
	return resumed, nil
}

// MarkCompleted transitions an actively held job to completed with its
// result handle and count.
func (s *TrackerService) MarkCompleted(ctx context.Context, params core.CompleteJobParams) (bool, error) {
	completed, err := s.store.MarkCompleted(ctx, params)
	if err != nil {
		s.emit(metrics.TransitionComplete, metrics.ResultError, err)
		return false, fmt.Errorf("complete job %s: %w", params.JobID, err)
	}

	if completed {
		s.emit(metrics.TransitionComplete, metrics.ResultSuccess, nil)
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job completed",
				"id", params.JobID,
				"result_handle", params.ResultHandle,
				"result_count", params.ResultCount)
		}
	} else {
		s.emit(metrics.TransitionComplete, metrics.ResultNoop, nil)
	}
	return completed, nil
}

// MarkFailed transitions a non-terminal job to failed with a caller-facing
// message.
func (s *TrackerService) MarkFailed(ctx context.Context, params core.FailJobParams) (bool, error) {
	if params.Message == "" {
		return false, errors.New("failure message required")
	}

	failed, err := s.store.MarkFailed(ctx, params)
	if err != nil {
		s.emit(metrics.TransitionFail, metrics.ResultError, err)
		return false, fmt.Errorf("fail job %s: %w", params.JobID, err)
	}

	if failed {
		s.emit(metrics.TransitionFail, metrics.ResultSuccess, nil)
		if s.logger != nil {
			s.logger.WarnContext(ctx, "job failed", "id", params.JobID, "message", params.Message)
		}
		s.notifyFailure(ctx, params)
	} else {
		s.emit(metrics.TransitionFail, metrics.ResultNoop, nil)
	}
	return failed, nil
}

// notifyFailure fans the failure out to configured notification sinks.
// Best effort: delivery problems are logged by the notifier, never returned.
func (s *TrackerService) notifyFailure(ctx context.Context, params core.FailJobParams) {
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}

	payload := notify.JobFailurePayload{
		JobID:      params.JobID,
		Stage:      params.Details.Stage,
		Error:      params.Message,
		OccurredAt: time.Now(),
	}
	if job, err := s.store.GetByID(ctx, params.JobID); err == nil {
		payload.Owner = job.Owner
		payload.CollectionID = job.Config.CollectionID
	}
	s.notifier.NotifyJobFailure(ctx, payload)
}

// CancelBatch cancels a set of jobs for an owner with per-id isolation: a
// job that cannot be cancelled (terminal, missing, or erroring) never blocks
// the rest of the batch.
func (s *TrackerService) CancelBatch(ctx context.Context, owner string, ids []string, reason string) (*model.CancelBatchResult, error) {
	if owner == "" {
		return nil, errors.New("owner is required")
	}

	result := &model.CancelBatchResult{Requested: len(ids)}
	for _, id := range ids {
		cancelled, err := s.store.MarkCancelled(ctx, owner, id, reason)
		if err != nil {
			s.emit(metrics.TransitionCancel, metrics.ResultError, err)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "cancel job failed", "id", id, "error", err)
			}
			continue
		}
		if !cancelled {
			s.emit(metrics.TransitionCancel, metrics.ResultNoop, nil)
			continue
		}

		result.Cancelled++
		s.emit(metrics.TransitionCancel, metrics.ResultSuccess, nil)
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job cancelled", "id", id, "reason", reason)
		}
	}
	return result, nil
}

// Stats returns counts of jobs in each status.
func (s *TrackerService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

func (s *TrackerService) emit(transition, result string, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: transition,
		Result:     result,
		Err:        err,
	})
}
