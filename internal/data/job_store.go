package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
)

// StoreConfig holds configuration options for the job store.
type StoreConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobStore provides database operations for collection job state.
type JobStore struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobStore creates a new JobStore instance with the given database connection and configuration.
func NewJobStore(db *sql.DB, cfg StoreConfig) *JobStore {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobStore{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

var _ core.JobStore = (*JobStore)(nil)

const jobColumns = `
  id,
  owner,
  status,
  progress,
  message,
  result_count,
  config,
  details,
  created_at,
  updated_at
`

// Create records a newly submitted report as a job in upstream_running status.
// The job id is the upstream report handle, so a duplicate insert means the
// same report was registered twice and maps to a conflict.
func (s *JobStore) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	config, err := json.Marshal(req.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal job config: %w", err)
	}

	now := s.timeProvider.Now().UTC()
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO collection_jobs (id, owner, status, progress, message, config, details, created_at, updated_at)
		VALUES ($1, $2, 'upstream_running', 0, $3, $4, '{}'::jsonb, $5, $5)
		RETURNING `+jobColumns, req.ID, req.Config.Owner, req.Message, config, now)

	job, scanErr := scanJobFromRow(row)
	if scanErr != nil {
		return nil, fmt.Errorf("insert job: %w", apperrors.MapDBError(scanErr))
	}
	return job, nil
}

// GetByID retrieves a job by its id regardless of owner. Intended for
// internal callers (processor, resumption); caller-facing reads go through
// GetForOwner.
func (s *JobStore) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM collection_jobs
		WHERE id = $1
	`, id)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetForOwner retrieves a job by id scoped to the requesting owner. A job
// belonging to a different owner is indistinguishable from a missing one.
func (s *JobStore) GetForOwner(ctx context.Context, owner, id string) (*model.Job, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM collection_jobs
		WHERE id = $1 AND owner = $2
	`, id, owner)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job for owner: %w", err)
	}
	return job, nil
}

// ListActive returns non-terminal jobs, least recently updated first, so the
// poll loop services the jobs that have waited longest.
func (s *JobStore) ListActive(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM collection_jobs
		WHERE status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan active job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	return jobs, nil
}

// Heartbeat updates status, progress, message, and merges the details patch
// into the stored details. The jsonb || merge keeps keys absent from the
// patch, so writers reporting different detail keys never clobber each other.
// Writing identical values is a no-op beyond updated_at.
func (s *JobStore) Heartbeat(ctx context.Context, params core.HeartbeatParams) error {
	if params.JobID == "" {
		return errors.New("job id is required")
	}
	if !params.Status.Valid() {
		return fmt.Errorf("invalid job status: %s", params.Status)
	}

	patch, err := json.Marshal(params.Details)
	if err != nil {
		return fmt.Errorf("marshal details patch: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = $2,
		    progress = $3,
		    message = $4,
		    details = details || $5::jsonb,
		    updated_at = $6
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, params.JobID, params.Status, clampProgress(params.Progress), params.Message, patch, s.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish "gone" from "already terminal" so workers can treat the
		// latter as a stop signal instead of an anomaly.
		var status model.JobStatus
		scanErr := s.DB.QueryRowContext(ctx, `SELECT status FROM collection_jobs WHERE id = $1`, params.JobID).Scan(&status)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return model.ErrJobNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("heartbeat status check: %w", scanErr)
		}
		return fmt.Errorf("%w: status %s", model.ErrJobNotActive, status)
	}
	return nil
}

// MarkUpstreamDone transitions upstream_running -> upstream_done. Returns
// false without error if the job already left upstream_running.
func (s *JobStore) MarkUpstreamDone(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = 'upstream_done',
		    message = 'upstream report ready',
		    updated_at = $2
		WHERE id = $1 AND status = 'upstream_running'
	`, id, s.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark upstream done: %w", err)
	}
	return oneRowAffected(res, "mark upstream done")
}

// TryClaimProcessing atomically claims an upstream_done job for processing.
// The conditional update is the whole claim protocol: whichever caller's
// statement matches the row wins, everyone else sees zero rows affected.
func (s *JobStore) TryClaimProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = 'processing',
		    message = 'processing report results',
		    updated_at = $2
		WHERE id = $1 AND status = 'upstream_done'
	`, id, s.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return oneRowAffected(res, "claim job")
}

// TryResumeStale atomically re-acquires a job whose worker went silent. The
// predicate only matches processing/persisting rows, so a job cancelled
// between the staleness check and this statement is never revived.
func (s *JobStore) TryResumeStale(ctx context.Context, id string, staleAfter time.Duration) (bool, error) {
	if staleAfter <= 0 {
		return false, errors.New("staleAfter must be positive")
	}

	now := s.timeProvider.Now().UTC()
	cutoff := now.Add(-staleAfter)
	res, err := s.DB.ExecContext(ctx, `
		UPDATE collection_jobs
		SET message = 'resuming stalled processing',
		    updated_at = $2
		WHERE id = $1
		  AND status IN ('processing', 'persisting')
		  AND updated_at < $3
	`, id, now, cutoff)
	if err != nil {
		return false, fmt.Errorf("resume stale job: %w", err)
	}
	return oneRowAffected(res, "resume stale job")
}

// MarkCompleted transitions an actively held job to completed. Returns false
// if the job is not in processing/persisting, which covers both "someone
// else finished it" and "it was cancelled underneath us".
func (s *JobStore) MarkCompleted(ctx context.Context, params core.CompleteJobParams) (bool, error) {
	patch, err := json.Marshal(params.Details)
	if err != nil {
		return false, fmt.Errorf("marshal details patch: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = 'completed',
		    progress = 100,
		    message = $2,
		    result_count = $3,
		    details = details || $4::jsonb,
		    updated_at = $5
		WHERE id = $1 AND status IN ('processing', 'persisting')
	`, params.JobID, "collection complete: "+params.ResultHandle, params.ResultCount, patch, s.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return oneRowAffected(res, "complete job")
}

// MarkFailed transitions any non-terminal job to failed with a caller-facing
// message. Idempotent on already-terminal jobs (returns false).
func (s *JobStore) MarkFailed(ctx context.Context, params core.FailJobParams) (bool, error) {
	patch, err := json.Marshal(params.Details)
	if err != nil {
		return false, fmt.Errorf("marshal details patch: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = 'failed',
		    message = $2,
		    details = details || $3::jsonb,
		    updated_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, params.JobID, params.Message, patch, s.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return oneRowAffected(res, "fail job")
}

// MarkCancelled transitions a non-terminal job to cancelled. Owner-scoped:
// cancelling someone else's job is indistinguishable from a missing one.
func (s *JobStore) MarkCancelled(ctx context.Context, owner, id, reason string) (bool, error) {
	message := "cancelled"
	if reason != "" {
		message = "cancelled: " + reason
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = 'cancelled',
		    message = $3,
		    updated_at = $4
		WHERE id = $1 AND owner = $2 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, id, owner, message, s.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return oneRowAffected(res, "cancel job")
}

// Stats returns counts of jobs in each status.
func (s *JobStore) Stats(ctx context.Context) (*model.JobStats, error) {
	var st model.JobStats
	err := s.DB.QueryRowContext(ctx, `
	  SELECT
	    count(*) FILTER (WHERE status = 'upstream_running') AS upstream_running,
	    count(*) FILTER (WHERE status = 'upstream_done')    AS upstream_done,
	    count(*) FILTER (WHERE status = 'processing')       AS processing,
	    count(*) FILTER (WHERE status = 'persisting')       AS persisting,
	    count(*) FILTER (WHERE status = 'completed')        AS completed,
	    count(*) FILTER (WHERE status = 'failed')           AS failed,
	    count(*) FILTER (WHERE status = 'cancelled')        AS cancelled
	  FROM collection_jobs
	  `).Scan(
		&st.UpstreamRunning,
		&st.UpstreamDone,
		&st.Processing,
		&st.Persisting,
		&st.Completed,
		&st.Failed,
		&st.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &st, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var (
		resultCount sql.NullInt64
		config      []byte
		details     []byte
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Owner,
		&job.Status,
		&job.Progress,
		&job.Message,
		&resultCount,
		&config,
		&details,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if resultCount.Valid {
		n := int(resultCount.Int64)
		job.ResultCount = &n
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &job.Config); err != nil {
			return nil, fmt.Errorf("unmarshal job config: %w", err)
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &job.Details); err != nil {
			return nil, fmt.Errorf("unmarshal job details: %w", err)
		}
	}
	return job, nil
}

func oneRowAffected(res sql.Result, op string) (bool, error) {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return rowsAffected > 0, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
