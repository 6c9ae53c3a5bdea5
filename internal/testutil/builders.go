// Package testutil provides testing utilities and helpers for the adsync collection engine.
package testutil

import (
	"fmt"

	"github.com/adsync/adsync/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			ID: "rpt-test-0001",
			Config: model.JobConfig{
				Owner:        "acct-1",
				StartDate:    "2024-01-01",
				EndDate:      "2024-01-31",
				CollectionID: "january-campaign",
			},
		},
	}
}

// WithID sets the upstream report handle used as the job ID.
func (b *JobRequestBuilder) WithID(id string) *JobRequestBuilder {
	b.req.ID = id
	return b
}

// WithOwner sets the owning account.
func (b *JobRequestBuilder) WithOwner(owner string) *JobRequestBuilder {
	b.req.Config.Owner = owner
	return b
}

// WithCollectionID sets the collection identifier.
func (b *JobRequestBuilder) WithCollectionID(collectionID string) *JobRequestBuilder {
	b.req.Config.CollectionID = collectionID
	return b
}

// WithDateRange sets the reporting window.
func (b *JobRequestBuilder) WithDateRange(start, end string) *JobRequestBuilder {
	b.req.Config.StartDate = start
	b.req.Config.EndDate = end
	return b
}

// WithRefresh marks the job as a refresh of previously collected data.
func (b *JobRequestBuilder) WithRefresh(refresh bool) *JobRequestBuilder {
	b.req.Config.Refresh = refresh
	return b
}

// WithFilter adds a dimension filter to the job config.
func (b *JobRequestBuilder) WithFilter(key, value string) *JobRequestBuilder {
	if b.req.Config.Filters == nil {
		b.req.Config.Filters = make(map[string]string)
	}
	b.req.Config.Filters[key] = value
	return b
}

// WithMessage sets the initial status message.
func (b *JobRequestBuilder) WithMessage(message string) *JobRequestBuilder {
	b.req.Message = message
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// Common test job request presets

// DefaultJobRequest creates a job request with default values.
func DefaultJobRequest() *model.CreateJobRequest {
	return NewJobRequest().Build()
}

// JobRequestForOwner creates a job request for the given owner with a unique id per index.
func JobRequestForOwner(owner string, n int) *model.CreateJobRequest {
	return NewJobRequest().
		WithID(fmt.Sprintf("rpt-%s-%04d", owner, n)).
		WithOwner(owner).
		WithCollectionID(fmt.Sprintf("%s-collection-%d", owner, n)).
		Build()
}

// RefreshJobRequest creates a job request that re-collects an existing window.
func RefreshJobRequest(collectionID string) *model.CreateJobRequest {
	return NewJobRequest().
		WithID("rpt-refresh-" + collectionID).
		WithCollectionID(collectionID).
		WithRefresh(true).
		Build()
}

// FilteredJobRequest creates a job request scoped to a single campaign.
func FilteredJobRequest(campaignID string) *model.CreateJobRequest {
	return NewJobRequest().
		WithID("rpt-filtered-" + campaignID).
		WithFilter("campaign_id", campaignID).
		Build()
}
