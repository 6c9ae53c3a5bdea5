// Package model defines the core data types and structures used throughout the adsync collection system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a collection job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobStatusUpstreamRunning indicates the upstream report is still being generated.
	JobStatusUpstreamRunning JobStatus = "upstream_running"
	// JobStatusUpstreamDone indicates the upstream report finished but local processing has not started.
	JobStatusUpstreamDone JobStatus = "upstream_done"
	// JobStatusProcessing indicates result pages are being fetched and enriched.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusPersisting indicates enriched records are being written out.
	JobStatusPersisting JobStatus = "persisting"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed permanently.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled by a caller.
	JobStatusCancelled JobStatus = "cancelled"
)

var (
	// ErrJobNotFound is returned when a job id does not exist for the requesting owner.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotActive is returned by Heartbeat when the job exists but has
	// already reached a terminal status. Workers treat it as a stop signal.
	ErrJobNotActive = errors.New("job is no longer active")
)

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus to allow env parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*s = v
		return nil
	}
	return fmt.Errorf("invalid JobStatus: %q", string(text))
}

// Valid returns true if the JobStatus is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusUpstreamRunning, JobStatusUpstreamDone, JobStatusProcessing,
		JobStatusPersisting, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Active returns true while local processing holds the job.
func (s JobStatus) Active() bool {
	return s == JobStatusProcessing || s == JobStatusPersisting
}

// JobConfig holds the original request parameters. It is written once at job
// creation and never mutated, so a restarted process can rebuild its working
// state from the job row alone.
type JobConfig struct {
	Owner        string            `json:"owner"`
	StartDate    string            `json:"start_date"`
	EndDate      string            `json:"end_date"`
	CollectionID string            `json:"collection_id"`
	Refresh      bool              `json:"refresh,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
}

// Validate validates the JobConfig fields.
func (c *JobConfig) Validate() error {
	if c.Owner == "" {
		return errors.New("owner is required")
	}
	if c.CollectionID == "" {
		return errors.New("collection id is required")
	}
	start, err := time.Parse(time.DateOnly, c.StartDate)
	if err != nil {
		return fmt.Errorf("invalid start date %q: %w", c.StartDate, err)
	}
	end, err := time.Parse(time.DateOnly, c.EndDate)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", c.EndDate, err)
	}
	if end.Before(start) {
		return errors.New("end date precedes start date")
	}
	return nil
}

// JobDetails carries structured progress detail for a job. Fields are
// cumulative counters; zero values mean "not reported yet" and are omitted
// from heartbeat patches so earlier values survive the merge.
type JobDetails struct {
	Stage            string `json:"stage,omitempty"`
	PagesCollected   int    `json:"pages_collected,omitempty"`
	TotalCollected   int    `json:"total_collected,omitempty"`
	EntitiesDeduped  int    `json:"entities_deduped,omitempty"`
	EntitiesEnriched int    `json:"entities_enriched,omitempty"`
	EntitiesDropped  int    `json:"entities_dropped,omitempty"`
	RecordsPersisted int    `json:"records_persisted,omitempty"`
	// Extra holds detail keys with no dedicated field.
	Extra map[string]string `json:"extra,omitempty"`
}

// Merge returns a copy of d with every non-zero field of patch applied on
// top. Extra keys are unioned, patch winning on collision. Fields absent
// from the patch keep their existing value.
func (d JobDetails) Merge(patch JobDetails) JobDetails {
	out := d
	if patch.Stage != "" {
		out.Stage = patch.Stage
	}
	if patch.PagesCollected != 0 {
		out.PagesCollected = patch.PagesCollected
	}
	if patch.TotalCollected != 0 {
		out.TotalCollected = patch.TotalCollected
	}
	if patch.EntitiesDeduped != 0 {
		out.EntitiesDeduped = patch.EntitiesDeduped
	}
	if patch.EntitiesEnriched != 0 {
		out.EntitiesEnriched = patch.EntitiesEnriched
	}
	if patch.EntitiesDropped != 0 {
		out.EntitiesDropped = patch.EntitiesDropped
	}
	if patch.RecordsPersisted != 0 {
		out.RecordsPersisted = patch.RecordsPersisted
	}
	if len(patch.Extra) > 0 {
		merged := make(map[string]string, len(d.Extra)+len(patch.Extra))
		for k, v := range d.Extra {
			merged[k] = v
		}
		for k, v := range patch.Extra {
			merged[k] = v
		}
		out.Extra = merged
	}
	return out
}

// IsZero reports whether the patch carries no detail at all.
func (d JobDetails) IsZero() bool {
	return d.Stage == "" && d.PagesCollected == 0 && d.TotalCollected == 0 &&
		d.EntitiesDeduped == 0 && d.EntitiesEnriched == 0 && d.EntitiesDropped == 0 &&
		d.RecordsPersisted == 0 && len(d.Extra) == 0
}

// Job represents a collection job. The job id is the upstream report handle,
// assigned at submission time.
type Job struct {
	ID          string     `json:"id"                     db:"id"`
	Owner       string     `json:"owner"                  db:"owner"`
	Status      JobStatus  `json:"status"                 db:"status"`
	Progress    int        `json:"progress"               db:"progress"`
	Message     string     `json:"message"                db:"message"`
	ResultCount *int       `json:"result_count,omitempty" db:"result_count"`
	Config      JobConfig  `json:"config"                 db:"config"`
	Details     JobDetails `json:"details"                db:"details"`
	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"             db:"updated_at"`
}

// CreateJobRequest represents a request to record a newly submitted report as a job.
type CreateJobRequest struct {
	ID      string    `json:"id"`
	Config  JobConfig `json:"config"`
	Message string    `json:"message,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if r.ID == "" {
		return errors.New("job id is required")
	}
	return r.Config.Validate()
}

// JobStatusResponse is the caller-facing view of a job's progress. ResultHandle
// and ResultCount are populated only once the job has completed.
type JobStatusResponse struct {
	ID           string      `json:"id"`
	Status       JobStatus   `json:"status"`
	Progress     int         `json:"progress"`
	Message      string      `json:"message,omitempty"`
	Details      *JobDetails `json:"details,omitempty"`
	ResultHandle *string     `json:"result_handle,omitempty"`
	ResultCount  *int        `json:"result_count,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// CancelBatchResult reports the outcome of a batch cancel request.
type CancelBatchResult struct {
	Requested int `json:"requested"`
	Cancelled int `json:"cancelled"`
}

// JobStats represents counts of jobs in each status, for operators.
type JobStats struct {
	UpstreamRunning int `json:"upstream_running"`
	UpstreamDone    int `json:"upstream_done"`
	Processing      int `json:"processing"`
	Persisting      int `json:"persisting"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Cancelled       int `json:"cancelled"`
}
