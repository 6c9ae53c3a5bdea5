package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
)

// submissionGuardTTL bounds the dedupe window for duplicate collection
// submissions (same owner, collection, date range).
const submissionGuardTTL = 10 * time.Minute

// StatusServiceOptions groups dependencies for StatusService.
type StatusServiceOptions struct {
	Tracker  *TrackerService     // Required: job state machine
	Upstream core.ReportClient   // Required: upstream reporting API
	Processor core.Processor     // Required: post-claim pipeline
	Cache    core.CacheRepository // Optional: submission dedupe guard
	Logger   *slog.Logger        // Optional: structured logger
	Now      func() time.Time    // Optional: clock override for tests
	RunAsync func(fn func())     // Optional: detached-run override for tests
}

// StatusService drives a job forward as a side effect of being observed.
// Poll is the engine's only external trigger: it reads the store first, polls
// the upstream at most once per call (collapsed across concurrent callers),
// records upstream completion, claims, and launches processing without ever
// blocking the caller on pipeline work.
type StatusService struct {
	tracker   *TrackerService
	upstream  core.ReportClient
	processor core.Processor
	cache     core.CacheRepository
	logger    *slog.Logger
	now       func() time.Time
	runAsync  func(fn func())

	polls singleflight.Group
}

// NewStatusService constructs a new StatusService.
func NewStatusService(opts StatusServiceOptions) (*StatusService, error) {
	if opts.Tracker == nil {
		return nil, errors.New("TrackerService is required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("ReportClient is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("Processor is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	runAsync := opts.RunAsync
	if runAsync == nil {
		runAsync = func(fn func()) { go fn() }
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "status_service")
	}

	return &StatusService{
		tracker:   opts.Tracker,
		upstream:  opts.Upstream,
		processor: opts.Processor,
		cache:     opts.Cache,
		logger:    logger,
		now:       now,
		runAsync:  runAsync,
	}, nil
}

// MustNewStatusService constructs a new StatusService and panics on error.
func MustNewStatusService(opts StatusServiceOptions) *StatusService {
	svc, err := NewStatusService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create StatusService: %v", err))
	}
	return svc
}

// CreateCollection submits an upstream report for the requested range and
// records it as a job. The returned job id is the upstream report handle.
func (s *StatusService) CreateCollection(ctx context.Context, req *model.CreateCollectionRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("create collection request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid collection request")
	}

	if err := s.guardDuplicateSubmission(ctx, req); err != nil {
		return nil, err
	}

	handle, err := s.upstream.StartReport(ctx, model.ReportRequest{
		Owner:     req.Owner,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Filters:   req.Filters,
	})
	if err != nil {
		s.releaseSubmissionGuard(ctx, req)
		return nil, fmt.Errorf("submit upstream report: %w", err)
	}

	job, err := s.tracker.CreateJob(ctx, &model.CreateJobRequest{
		ID:      handle,
		Config:  req.Config(),
		Message: "upstream report running",
	})
	if err != nil {
		// The upstream report keeps running; nothing references it, so it
		// simply ages out upstream. Surface the store failure to the caller.
		s.releaseSubmissionGuard(ctx, req)
		return nil, err
	}
	return job, nil
}

// Poll returns the caller-facing status of a job and, as a side effect,
// advances it: upstream polling, claim, stale resumption. Poll never blocks
// on processing work.
func (s *StatusService) Poll(ctx context.Context, owner, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.tracker.GetForOwner(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}

	switch {
	case job.Status.Terminal():
		return statusResponse(job), nil

	case job.Status.Active():
		if s.tracker.IsStale(job, s.now()) {
			s.resumeIfStillStale(ctx, job.ID)
		}
		return statusResponse(job), nil

	case job.Status == model.JobStatusUpstreamDone:
		// A previous poll recorded completion but the claim or launch never
		// happened (crash window). Pick it up here.
		s.claimAndLaunch(ctx, job.ID)
		return statusResponse(job), nil

	default: // upstream_running
		return s.pollUpstream(ctx, job)
	}
}

// Cancel cancels a batch of the owner's jobs. Per-id isolation: failures on
// individual ids reduce the cancelled count, never abort the batch.
func (s *StatusService) Cancel(ctx context.Context, owner string, ids []string, reason string) (*model.CancelBatchResult, error) {
	return s.tracker.CancelBatch(ctx, owner, ids, reason)
}

// pollUpstream asks the upstream for report state, collapsing concurrent
// polls for the same job into a single outbound call.
func (s *StatusService) pollUpstream(ctx context.Context, job *model.Job) (*model.JobStatusResponse, error) {
	v, err, _ := s.polls.Do(job.ID, func() (any, error) {
		return s.pollUpstreamOnce(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	resp, ok := v.(*model.JobStatusResponse)
	if !ok {
		return nil, apperrors.Internal("unexpected poll result type")
	}
	return resp, nil
}

func (s *StatusService) pollUpstreamOnce(ctx context.Context, job *model.Job) (*model.JobStatusResponse, error) {
	st, err := s.upstream.GetReportStatus(ctx, job.ID)
	if err != nil {
		return s.handleUpstreamPollError(ctx, job, err)
	}

	switch st.State {
	case model.ReportStateFailed:
		message := "upstream report failed"
		if st.Error != "" {
			message += ": " + st.Error
		}
		if _, failErr := s.tracker.MarkFailed(ctx, core.FailJobParams{JobID: job.ID, Message: message}); failErr != nil {
			return nil, failErr
		}
		return s.refreshedResponse(ctx, job)

	case model.ReportStateCompleted:
		if _, doneErr := s.tracker.MarkUpstreamDone(ctx, job.ID); doneErr != nil {
			return nil, doneErr
		}
		s.claimAndLaunch(ctx, job.ID)
		return s.refreshedResponse(ctx, job)

	default: // still running upstream
		s.recordUpstreamProgress(ctx, job, st)
		return s.refreshedResponse(ctx, job)
	}
}

// handleUpstreamPollError maps an upstream poll failure. Auth failures are
// permanent and fail the job with an actionable message; anything transient
// leaves the job untouched, since the next poll is the retry.
func (s *StatusService) handleUpstreamPollError(ctx context.Context, job *model.Job, err error) (*model.JobStatusResponse, error) {
	if apperrors.IsUpstreamAuth(err) {
		message := "upstream rejected our credentials; refresh the upstream authorization and submit a new collection"
		if _, failErr := s.tracker.MarkFailed(ctx, core.FailJobParams{JobID: job.ID, Message: message}); failErr != nil {
			return nil, failErr
		}
		return s.refreshedResponse(ctx, job)
	}

	if s.logger != nil {
		s.logger.WarnContext(ctx, "upstream status poll failed",
			"id", job.ID,
			"error", err)
	}
	// Report the last known state; polling again later retries the upstream.
	return statusResponse(job), nil
}

// recordUpstreamProgress maps upstream percent-complete onto the first part
// of the job progress scale. Failures here are log-only: progress display is
// advisory and the next poll overwrites it.
func (s *StatusService) recordUpstreamProgress(ctx context.Context, job *model.Job, st *model.ReportStatus) {
	progress := upstreamProgress(st.Percent)
	if progress <= job.Progress {
		return
	}
	err := s.tracker.Heartbeat(ctx, core.HeartbeatParams{
		JobID:    job.ID,
		Status:   model.JobStatusUpstreamRunning,
		Progress: progress,
		Message:  "upstream report running",
	})
	if err != nil && s.logger != nil {
		s.logger.DebugContext(ctx, "record upstream progress failed", "id", job.ID, "error", err)
	}
}

// claimAndLaunch attempts the processing claim and, on winning, launches the
// processor detached from the caller's request context.
func (s *StatusService) claimAndLaunch(ctx context.Context, jobID string) {
	won, err := s.tracker.TryClaimProcessing(ctx, jobID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "claim attempt failed", "id", jobID, "error", err)
		}
		return
	}
	if !won {
		return
	}
	s.launchProcessor(jobID)
}

// resumeIfStillStale attempts the stale-takeover CAS and relaunches the
// processor when this caller wins it.
func (s *StatusService) resumeIfStillStale(ctx context.Context, jobID string) {
	resumed, err := s.tracker.TryResumeStale(ctx, jobID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "stale resume attempt failed", "id", jobID, "error", err)
		}
		return
	}
	if !resumed {
		return
	}
	s.launchProcessor(jobID)
}

// launchProcessor runs the pipeline detached: the triggering poll request
// finishing (or being cancelled) must not abort processing.
func (s *StatusService) launchProcessor(jobID string) {
	s.runAsync(func() {
		ctx := context.Background()
		if err := s.processor.Process(ctx, jobID); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "processing run ended with error", "id", jobID, "error", err)
		}
	})
}

func (s *StatusService) refreshedResponse(ctx context.Context, job *model.Job) (*model.JobStatusResponse, error) {
	fresh, err := s.tracker.GetForOwner(ctx, job.Owner, job.ID)
	if err != nil {
		// Fall back to the stale view rather than failing the poll.
		return statusResponse(job), nil
	}
	return statusResponse(fresh), nil
}

func (s *StatusService) guardDuplicateSubmission(ctx context.Context, req *model.CreateCollectionRequest) error {
	if s.cache == nil {
		return nil
	}
	key := submissionGuardKey(req)
	ok, err := s.cache.SetIfNotExists(ctx, key, []byte("1"), submissionGuardTTL)
	if err != nil {
		// The guard is best-effort; a cache outage must not block submissions.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "submission guard unavailable", "error", err)
		}
		return nil
	}
	if !ok {
		return apperrors.Conflictf("a collection for %s %s..%s was submitted moments ago",
			req.CollectionID, req.StartDate, req.EndDate)
	}
	return nil
}

func (s *StatusService) releaseSubmissionGuard(ctx context.Context, req *model.CreateCollectionRequest) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, submissionGuardKey(req)); err != nil && s.logger != nil {
		s.logger.DebugContext(ctx, "release submission guard failed", "error", err)
	}
}

func submissionGuardKey(req *model.CreateCollectionRequest) string {
	return fmt.Sprintf("adsync:submit:%s:%s:%s:%s", req.Owner, req.CollectionID, req.StartDate, req.EndDate)
}

func statusResponse(job *model.Job) *model.JobStatusResponse {
	resp := &model.JobStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Message:   job.Message,
		UpdatedAt: job.UpdatedAt,
	}
	if !job.Details.IsZero() {
		details := job.Details
		resp.Details = &details
	}
	if job.Status == model.JobStatusCompleted {
		handle := job.Config.CollectionID
		resp.ResultHandle = &handle
		resp.ResultCount = job.ResultCount
	}
	return resp
}

// upstreamProgress maps upstream percent-complete onto the 0-40 band of the
// job progress scale; fetching, enrichment, and persistence occupy the rest.
func upstreamProgress(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent * 40 / 100
}
