package core

import (
	"context"
	"time"

	"github.com/adsync/adsync/internal/domain/model"
)

// This file contains repository and client interface definitions (ports in
// hexagonal architecture). These interfaces define the contracts between the
// service layer and the data/upstream layers. Service implementations should
// depend on these interfaces, not concrete implementations.

// HeartbeatParams groups parameters for JobStore.Heartbeat to keep param count ≤3.
type HeartbeatParams struct {
	JobID    string
	Status   model.JobStatus
	Progress int
	Message  string
	Details  model.JobDetails
}

// CompleteJobParams groups parameters for JobStore.MarkCompleted.
type CompleteJobParams struct {
	JobID        string
	ResultHandle string
	ResultCount  int
	Details      model.JobDetails
}

// FailJobParams groups parameters for JobStore.MarkFailed.
type FailJobParams struct {
	JobID   string
	Message string
	Details model.JobDetails
}

// JobStore defines the interface for durable job state operations.
//
// Heartbeat merges the details patch into the stored details rather than
// replacing them, so concurrent writers reporting different keys do not
// clobber each other. TryClaimProcessing and TryResumeStale are conditional
// single-statement updates; both report whether this caller won.
type JobStore interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	GetForOwner(ctx context.Context, owner, id string) (*model.Job, error)
	// ListActive returns non-terminal jobs, least recently updated first.
	ListActive(ctx context.Context, limit int) ([]*model.Job, error)
	Heartbeat(ctx context.Context, params HeartbeatParams) error
	MarkUpstreamDone(ctx context.Context, id string) (bool, error)
	TryClaimProcessing(ctx context.Context, id string) (bool, error)
	TryResumeStale(ctx context.Context, id string, staleAfter time.Duration) (bool, error)
	MarkCompleted(ctx context.Context, params CompleteJobParams) (bool, error)
	MarkFailed(ctx context.Context, params FailJobParams) (bool, error)
	MarkCancelled(ctx context.Context, owner, id, reason string) (bool, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// ReportClient defines the interface to the upstream reporting API.
//
// Implementations translate upstream failures into the application error
// taxonomy: upstream_auth for credential rejection, rate_limited for
// throttling and payload-too-large refusals, upstream_transient for failures
// worth retrying.
type ReportClient interface {
	// StartReport submits a report request and returns the upstream handle.
	StartReport(ctx context.Context, req model.ReportRequest) (string, error)
	// GetReportStatus fetches the upstream-side state of a submitted report.
	GetReportStatus(ctx context.Context, handle string) (*model.ReportStatus, error)
	// GetPage fetches one page of report results. An empty cursor requests the
	// first page; an empty NextCursor in the response marks the last page.
	GetPage(ctx context.Context, handle, cursor string) (*model.ReportPage, error)
	// GetCreativeMetadata fetches heavy metadata for a batch of creative names.
	GetCreativeMetadata(ctx context.Context, names []string) ([]model.CreativeMeta, error)
	// GetAdStatuses fetches serving status for a batch of ad ids.
	GetAdStatuses(ctx context.Context, adIDs []string) ([]model.AdStatus, error)
}

// RecordStore defines the persistence contract for collected records. Both
// upserts key on stable composite identity so re-running a job converges on
// the same rows instead of duplicating them.
type RecordStore interface {
	// UpsertCreatives writes per-creative rollups keyed by (collection, name).
	// AdIDs and Tags on an existing row are set-unioned, not replaced.
	UpsertCreatives(ctx context.Context, collectionID string, records []model.CreativeRecord) (int, error)
	// UpsertMetrics writes per-ad per-day rows keyed by (collection, ad, date).
	UpsertMetrics(ctx context.Context, collectionID string, records []model.MetricRecord) (int, error)
	// ComputeSummaryStats aggregates the collection. Returns nil when the
	// collection has no rows.
	ComputeSummaryStats(ctx context.Context, collectionID string) (*model.CollectionStats, error)
}

// ProgressReporter is the narrow tracker surface the processor drives. The
// concrete TrackerService satisfies it.
type ProgressReporter interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	Heartbeat(ctx context.Context, params HeartbeatParams) error
	MarkCompleted(ctx context.Context, params CompleteJobParams) (bool, error)
	MarkFailed(ctx context.Context, params FailJobParams) (bool, error)
}

// Processor runs the post-claim pipeline for one job to a terminal status.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// CacheRepository defines caching operations used by the enrichment pipeline
// and the submission dedupe guard. Get returns nil without error when the key
// does not exist.
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Health(ctx context.Context) error
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs to keep param count ≤3.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// RetentionStore defines the interface for terminal-job cleanup operations.
type RetentionStore interface {
	// DeleteOldJobs deletes jobs with the given terminal status older than
	// MaxAge, up to BatchSize per call to prevent long locks. Returns the
	// number of jobs deleted.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}
