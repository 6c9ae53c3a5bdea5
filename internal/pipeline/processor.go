package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/domain/model"
)

// defaultHeartbeatMinInterval throttles progress heartbeats so a fast page
// loop does not hammer the job row.
const defaultHeartbeatMinInterval = 3 * time.Second

// Progress bands per stage. Collection owns 10-40, enrichment 45-60,
// persistence 70-95; MarkCompleted sets 100.
const (
	progressCollectStart = 10
	progressCollectEnd   = 40
	progressEnrichStart  = 45
	progressEnrichEnd    = 60
	progressPersistStart = 70
	progressCreativesUp  = 80
	progressMetricsUp    = 95
)

// ProcessorOptions groups dependencies for Processor.
type ProcessorOptions struct {
	Tracker              core.ProgressReporter // Required: job progress surface
	Fetcher              *PageFetcher          // Required: result page fetcher
	Enricher             *Enricher             // Required: metadata/status enricher
	Formatter            *Formatter            // Required: record formatter
	Records              core.RecordStore      // Required: record persistence
	Logger               *slog.Logger          // Optional: structured logger
	Now                  func() time.Time      // Optional: clock override for tests
	HeartbeatMinInterval time.Duration         // Optional: heartbeat throttle (default 3s)
}

// Processor drives one claimed job through fetch, enrich, format, and
// persist, heartbeating progress along the way and finishing in a terminal
// status. Every step is resumable: the job row plus idempotent upserts mean
// a takeover after a crash simply redoes the work and converges.
type Processor struct {
	tracker     core.ProgressReporter
	fetcher     *PageFetcher
	enricher    *Enricher
	formatter   *Formatter
	records     core.RecordStore
	logger      *slog.Logger
	now         func() time.Time
	minInterval time.Duration
}

// NewProcessor constructs a new Processor.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Tracker == nil {
		return nil, errors.New("ProgressReporter is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("PageFetcher is required")
	}
	if opts.Enricher == nil {
		return nil, errors.New("Enricher is required")
	}
	if opts.Formatter == nil {
		return nil, errors.New("Formatter is required")
	}
	if opts.Records == nil {
		return nil, errors.New("RecordStore is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	minInterval := opts.HeartbeatMinInterval
	if minInterval <= 0 {
		minInterval = defaultHeartbeatMinInterval
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "processor")
	}

	return &Processor{
		tracker:     opts.Tracker,
		fetcher:     opts.Fetcher,
		enricher:    opts.Enricher,
		formatter:   opts.Formatter,
		records:     opts.Records,
		logger:      logger,
		now:         now,
		minInterval: minInterval,
	}, nil
}

// MustNewProcessor constructs a new Processor and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewProcessor(opts ProcessorOptions) *Processor {
	p, err := NewProcessor(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Processor: %v", err))
	}
	return p
}

var _ core.Processor = (*Processor)(nil)

// Process runs the claimed job to a terminal status. The caller must have
// already won the claim (or stale resumption); Process itself never claims.
// A job cancelled mid-flight surfaces through a rejected heartbeat, at which
// point processing stops without touching the terminal status.
func (p *Processor) Process(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.ErrorContext(ctx, "panic while processing job", "id", jobID, "panic", r)
			}
			p.failJob(ctx, jobID, "internal error while processing collection", model.JobDetails{})
			err = fmt.Errorf("panic while processing job %s: %v", jobID, r)
		}
	}()

	job, err := p.tracker.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	cfg := job.Config
	if validateErr := cfg.Validate(); validateErr != nil {
		p.failJob(ctx, jobID, "invalid collection config: "+validateErr.Error(), model.JobDetails{})
		return fmt.Errorf("invalid config for job %s: %w", jobID, validateErr)
	}

	hb := &heartbeater{
		tracker:     p.tracker,
		jobID:       jobID,
		logger:      p.logger,
		now:         p.now,
		minInterval: p.minInterval,
	}

	rows, err := p.collect(ctx, jobID, hb)
	if err != nil {
		return err
	}
	if hb.stopped() {
		return nil
	}

	if len(rows) == 0 {
		return p.complete(ctx, jobID, cfg.CollectionID, 0, model.JobDetails{Stage: "persisting"})
	}

	outcome, err := p.enrich(ctx, jobID, hb, rows)
	if err != nil {
		return err
	}
	if hb.stopped() {
		return nil
	}

	output := p.formatter.Format(outcome.Rows)

	persisted, err := p.persist(ctx, jobID, cfg.CollectionID, hb, output)
	if err != nil {
		return err
	}
	if hb.stopped() {
		return nil
	}

	p.logSummary(ctx, cfg.CollectionID)

	return p.complete(ctx, jobID, cfg.CollectionID, len(outcome.Rows), model.JobDetails{
		RecordsPersisted: persisted,
	})
}

// collect fetches all result pages, heartbeating page counts as they land.
func (p *Processor) collect(ctx context.Context, jobID string, hb *heartbeater) ([]model.ReportRow, error) {
	hb.force(ctx, core.HeartbeatParams{
		JobID:    jobID,
		Status:   model.JobStatusProcessing,
		Progress: progressCollectStart,
		Message:  "collecting report pages",
		Details:  model.JobDetails{Stage: "collecting"},
	})
	if hb.stopped() {
		return nil, nil
	}

	result, err := p.fetcher.Collect(ctx, jobID, func(pages, rowCount int) {
		hb.send(ctx, core.HeartbeatParams{
			JobID:    jobID,
			Status:   model.JobStatusProcessing,
			Progress: collectProgress(pages),
			Message:  "collecting report pages",
			Details: model.JobDetails{
				Stage:          "collecting",
				PagesCollected: pages,
				TotalCollected: rowCount,
			},
		})
	})
	if err != nil {
		if hb.stopped() {
			return nil, nil
		}
		details := model.JobDetails{
			Stage:          "collecting",
			PagesCollected: result.Pages,
			TotalCollected: len(result.Rows),
		}
		p.failJob(ctx, jobID, "failed to collect report results: "+err.Error(), details)
		return nil, fmt.Errorf("collect job %s: %w", jobID, err)
	}
	return result.Rows, nil
}

// enrich joins the rows with creative metadata and serving status.
func (p *Processor) enrich(ctx context.Context, jobID string, hb *heartbeater, rows []model.ReportRow) (*EnrichOutcome, error) {
	hb.force(ctx, core.HeartbeatParams{
		JobID:    jobID,
		Status:   model.JobStatusProcessing,
		Progress: progressEnrichStart,
		Message:  "enriching creatives",
		Details:  model.JobDetails{Stage: "enriching", TotalCollected: len(rows)},
	})
	if hb.stopped() {
		return nil, nil
	}

	outcome, err := p.enricher.Enrich(ctx, rows)
	if err != nil {
		// Enrichment only errors on cancellation; the job stays active for
		// stale resumption rather than being failed.
		return nil, fmt.Errorf("enrich job %s: %w", jobID, err)
	}

	hb.force(ctx, core.HeartbeatParams{
		JobID:    jobID,
		Status:   model.JobStatusProcessing,
		Progress: progressEnrichEnd,
		Message:  "enriching creatives",
		Details: model.JobDetails{
			Stage:            "enriching",
			EntitiesDeduped:  outcome.EntitiesDeduped,
			EntitiesEnriched: outcome.EntitiesEnriched,
			EntitiesDropped:  outcome.EntitiesDropped,
		},
	})
	return outcome, nil
}

// persist writes creative rollups then metric rows, returning the total
// records written.
func (p *Processor) persist(ctx context.Context, jobID, collectionID string, hb *heartbeater, output *FormatOutput) (int, error) {
	hb.force(ctx, core.HeartbeatParams{
		JobID:    jobID,
		Status:   model.JobStatusPersisting,
		Progress: progressPersistStart,
		Message:  "persisting records",
		Details:  model.JobDetails{Stage: "persisting"},
	})
	if hb.stopped() {
		return 0, nil
	}

	creatives, err := p.records.UpsertCreatives(ctx, collectionID, output.Creatives)
	if err != nil {
		p.failJob(ctx, jobID, "failed to persist creatives: "+err.Error(), model.JobDetails{Stage: "persisting"})
		return 0, fmt.Errorf("persist creatives for job %s: %w", jobID, err)
	}
	hb.send(ctx, core.HeartbeatParams{
		JobID:    jobID,
		Status:   model.JobStatusPersisting,
		Progress: progressCreativesUp,
		Message:  "persisting records",
		Details:  model.JobDetails{Stage: "persisting", RecordsPersisted: creatives},
	})
	if hb.stopped() {
		return 0, nil
	}

	metricRows, err := p.records.UpsertMetrics(ctx, collectionID, output.Metrics)
	if err != nil {
		p.failJob(ctx, jobID, "failed to persist metrics: "+err.Error(),
			model.JobDetails{Stage: "persisting", RecordsPersisted: creatives})
		return 0, fmt.Errorf("persist metrics for job %s: %w", jobID, err)
	}

	total := creatives + metricRows
	hb.send(ctx, core.HeartbeatParams{
		JobID:    jobID,
		Status:   model.JobStatusPersisting,
		Progress: progressMetricsUp,
		Message:  "persisting records",
		Details:  model.JobDetails{Stage: "persisting", RecordsPersisted: total},
	})
	return total, nil
}

// complete marks the job completed. A false return means the job reached a
// terminal status underneath us (cancelled), which is not an error.
func (p *Processor) complete(ctx context.Context, jobID, collectionID string, resultCount int, details model.JobDetails) error {
	completed, err := p.tracker.MarkCompleted(ctx, core.CompleteJobParams{
		JobID:        jobID,
		ResultHandle: collectionID,
		ResultCount:  resultCount,
		Details:      details,
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if !completed && p.logger != nil {
		p.logger.WarnContext(ctx, "job reached terminal status before completion", "id", jobID)
	}
	return nil
}

// failJob marks the job failed, best-effort.
func (p *Processor) failJob(ctx context.Context, jobID, message string, details model.JobDetails) {
	if _, err := p.tracker.MarkFailed(ctx, core.FailJobParams{
		JobID:   jobID,
		Message: message,
		Details: details,
	}); err != nil && p.logger != nil {
		p.logger.ErrorContext(ctx, "failed to mark job failed", "id", jobID, "error", err)
	}
}

// logSummary logs the collection rollup. Best-effort: the stats query
// failing never affects the job outcome.
func (p *Processor) logSummary(ctx context.Context, collectionID string) {
	stats, err := p.records.ComputeSummaryStats(ctx, collectionID)
	if err != nil {
		if p.logger != nil {
			p.logger.WarnContext(ctx, "summary stats failed", "collection_id", collectionID, "error", err)
		}
		return
	}
	if stats == nil || p.logger == nil {
		return
	}
	p.logger.InfoContext(ctx, "collection summary",
		"collection_id", stats.CollectionID,
		"creatives", stats.Creatives,
		"metric_rows", stats.MetricRows,
		"impressions", stats.Impressions,
		"clicks", stats.Clicks,
		"cost_micros", stats.CostMicros,
		"conversions", stats.Conversions)
}

// collectProgress maps collected pages into the collection progress band.
func collectProgress(pages int) int {
	progress := progressCollectStart + pages
	if progress > progressCollectEnd {
		return progressCollectEnd
	}
	return progress
}

// heartbeater throttles progress heartbeats and converts a rejected
// heartbeat into a sticky stop signal. A heartbeat bouncing off a terminal
// job means a caller cancelled it; processing stops and leaves the terminal
// status untouched.
type heartbeater struct {
	tracker     core.ProgressReporter
	jobID       string
	logger      *slog.Logger
	now         func() time.Time
	minInterval time.Duration

	last time.Time
	stop bool
}

// send delivers a heartbeat unless one was delivered within minInterval.
func (h *heartbeater) send(ctx context.Context, params core.HeartbeatParams) {
	if h.stop {
		return
	}
	if !h.last.IsZero() && h.now().Sub(h.last) < h.minInterval {
		return
	}
	h.deliver(ctx, params)
}

// force delivers a heartbeat regardless of the throttle. Stage entries use
// this so the stored stage always reflects what the worker is doing.
func (h *heartbeater) force(ctx context.Context, params core.HeartbeatParams) {
	if h.stop {
		return
	}
	h.deliver(ctx, params)
}

func (h *heartbeater) deliver(ctx context.Context, params core.HeartbeatParams) {
	err := h.tracker.Heartbeat(ctx, params)
	if err == nil {
		h.last = h.now()
		return
	}

	if errors.Is(err, model.ErrJobNotActive) || errors.Is(err, model.ErrJobNotFound) {
		h.stop = true
		if h.logger != nil {
			h.logger.InfoContext(ctx, "job no longer active, stopping", "id", h.jobID, "reason", err)
		}
		return
	}
	// Transient heartbeat failures never kill the pipeline.
	if h.logger != nil {
		h.logger.WarnContext(ctx, "heartbeat failed", "id", h.jobID, "error", err)
	}
}

// stopped reports whether a heartbeat bounced off a terminal job.
func (h *heartbeater) stopped() bool {
	return h.stop
}
