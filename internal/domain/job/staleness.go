// Package job holds pure job state-machine rules with no I/O: which status
// transitions are legal and when an actively held job counts as stale.
package job

import (
	"errors"
	"time"

	"github.com/adsync/adsync/internal/domain/model"
)

// ErrInvalidStaleThreshold indicates the configured staleness threshold is not positive.
var ErrInvalidStaleThreshold = errors.New("stale threshold must be positive")

// StalenessPolicy decides when an actively held job has gone silent for long
// enough to be resumed by another worker. The policy is advisory: the actual
// takeover is a conditional update in the store, so a wrong guess here costs
// a no-op statement, never a double takeover.
type StalenessPolicy struct {
	threshold time.Duration
}

// NewStalenessPolicy constructs a StalenessPolicy with the provided threshold.
func NewStalenessPolicy(threshold time.Duration) (*StalenessPolicy, error) {
	if threshold <= 0 {
		return nil, ErrInvalidStaleThreshold
	}
	return &StalenessPolicy{threshold: threshold}, nil
}

// Threshold returns the configured staleness threshold.
func (p *StalenessPolicy) Threshold() time.Duration {
	if p == nil {
		return 0
	}
	return p.threshold
}

// IsStale reports whether the job is actively held but has not heartbeated
// within the threshold. Jobs outside processing/persisting are never stale:
// upstream_running jobs are waiting on the upstream, not on a worker.
func (p *StalenessPolicy) IsStale(j *model.Job, now time.Time) bool {
	if p == nil || j == nil {
		return false
	}
	if !j.Status.Active() {
		return false
	}
	if j.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(j.UpdatedAt) > p.threshold
}

// CanTransition reports whether a direct transition between two statuses is
// legal. Terminal statuses admit nothing; cancelled can be entered from any
// non-terminal status.
func CanTransition(from, to model.JobStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case model.JobStatusUpstreamDone:
		return from == model.JobStatusUpstreamRunning
	case model.JobStatusProcessing:
		return from == model.JobStatusUpstreamDone || from == model.JobStatusProcessing ||
			from == model.JobStatusPersisting
	case model.JobStatusPersisting:
		return from == model.JobStatusProcessing || from == model.JobStatusPersisting
	case model.JobStatusCompleted:
		return from.Active()
	case model.JobStatusFailed, model.JobStatusCancelled:
		return true
	case model.JobStatusUpstreamRunning:
		return from == model.JobStatusUpstreamRunning
	default:
		return false
	}
}
