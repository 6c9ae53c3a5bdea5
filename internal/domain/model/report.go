package model

import "encoding/json"

// ReportRequest describes an upstream report submission.
type ReportRequest struct {
	Owner     string            `json:"owner"`
	StartDate string            `json:"start_date"`
	EndDate   string            `json:"end_date"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// ReportState is the upstream-side lifecycle of a submitted report.
type ReportState string

const (
	// ReportStateRunning means the upstream is still generating the report.
	ReportStateRunning ReportState = "running"
	// ReportStateCompleted means the report is ready for result paging.
	ReportStateCompleted ReportState = "completed"
	// ReportStateFailed means the upstream gave up on the report.
	ReportStateFailed ReportState = "failed"
)

// ReportStatus is a point-in-time view of an upstream report.
type ReportStatus struct {
	State   ReportState `json:"state"`
	Percent int         `json:"percent"`
	Error   string      `json:"error,omitempty"`
}

// ReportRow is one row of report results. Raw retains the upstream JSON
// object so configured field extraction can reach metrics not modeled here.
type ReportRow struct {
	AdID        string          `json:"ad_id"`
	Name        string          `json:"name"`
	CampaignID  string          `json:"campaign_id"`
	AdGroupID   string          `json:"ad_group_id"`
	Date        string          `json:"date"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	CostMicros  int64           `json:"cost_micros"`
	Conversions int64           `json:"conversions"`
	Raw         json.RawMessage `json:"-"`
}

// ReportPage is one page of report results. An empty NextCursor means the
// final page has been reached.
type ReportPage struct {
	Rows       []ReportRow `json:"rows"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// CreativeMeta is the heavy per-creative metadata, keyed by creative name.
type CreativeMeta struct {
	Name           string `json:"name"`
	Title          string `json:"title"`
	ImageURL       string `json:"image_url"`
	DestinationURL string `json:"destination_url"`
	Category       string `json:"category"`
}

// AdStatus is the cheap per-ad serving status. Two ads sharing a creative
// name can serve independently, so this is keyed by ad id, not name.
type AdStatus struct {
	AdID  string `json:"ad_id"`
	State string `json:"state"`
}

// EnrichedRow is a report row joined with whatever enrichment succeeded.
// Meta is nil when metadata for the row's creative could not be fetched.
type EnrichedRow struct {
	ReportRow
	Meta         *CreativeMeta
	ServingState string
}

// CreativeRecord is the persisted per-creative rollup within a collection.
// AdIDs and Tags are set-unioned into the existing row on conflict.
type CreativeRecord struct {
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	ImageURL       string   `json:"image_url"`
	DestinationURL string   `json:"destination_url"`
	Category       string   `json:"category"`
	ServingState   string   `json:"serving_state"`
	AdIDs          []string `json:"ad_ids"`
	Tags           []string `json:"tags,omitempty"`
}

// MetricRecord is the persisted per-ad per-day metric row within a collection.
// Extras holds configured metric fields extracted from the raw upstream row.
type MetricRecord struct {
	AdID        string             `json:"ad_id"`
	Date        string             `json:"date"`
	Name        string             `json:"name"`
	Impressions int64              `json:"impressions"`
	Clicks      int64              `json:"clicks"`
	CostMicros  int64              `json:"cost_micros"`
	Conversions int64              `json:"conversions"`
	Extras      map[string]float64 `json:"extras,omitempty"`
}

// CollectionStats is the aggregate rollup of a persisted collection.
type CollectionStats struct {
	CollectionID string `json:"collection_id"`
	Creatives    int    `json:"creatives"`
	MetricRows   int    `json:"metric_rows"`
	Impressions  int64  `json:"impressions"`
	Clicks       int64  `json:"clicks"`
	CostMicros   int64  `json:"cost_micros"`
	Conversions  int64  `json:"conversions"`
}

// CreateCollectionRequest asks for a new collection job: submit an upstream
// report for the date range and track it to completion.
type CreateCollectionRequest struct {
	Owner        string            `json:"owner"`
	StartDate    string            `json:"start_date"`
	EndDate      string            `json:"end_date"`
	CollectionID string            `json:"collection_id"`
	Refresh      bool              `json:"refresh,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
}

// Config converts the request into the immutable job config.
func (r *CreateCollectionRequest) Config() JobConfig {
	return JobConfig{
		Owner:        r.Owner,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		CollectionID: r.CollectionID,
		Refresh:      r.Refresh,
		Filters:      r.Filters,
	}
}

// Validate validates the CreateCollectionRequest fields.
func (r *CreateCollectionRequest) Validate() error {
	cfg := r.Config()
	return cfg.Validate()
}
