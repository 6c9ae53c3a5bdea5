// Package processor provides the adapter for running the collection
// processor: the poll loop plus the fetch/enrich/persist pipeline behind it.
package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/adsync/adsync/config"
	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/data"
	"github.com/adsync/adsync/internal/observability/statsd"
	"github.com/adsync/adsync/internal/pipeline"
	"github.com/adsync/adsync/internal/service"
	"github.com/adsync/adsync/internal/service/failurenotifier"
	"github.com/adsync/adsync/internal/upstream"
)

// Runner provides a simple adapter to run the collection processor loop.
// It wires the stores, upstream client, tracker, pipeline, and poll loop.
type Runner struct {
	poller *service.PollerService
	status *service.StatusService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB              *sql.DB
	Cache           core.CacheRepository
	Config          *config.AppConfig
	Logger          *slog.Logger
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
	Upstream        core.ReportClient // Optional dependency injection for testing/decoupling
	Processor       core.Processor    // Optional dependency injection for testing/decoupling
}

// NewRunner creates a new processor runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	poller, status, err := wireProcessor(opts)
	if err != nil {
		return nil, fmt.Errorf("wire processor: %w", err)
	}

	return &Runner{
		poller: poller,
		status: status,
		logger: opts.Logger,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil {
		return errors.New("database connection is required")
	}
	if opts.Config == nil {
		return errors.New("app config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// StatusService returns the wired status service, the submission and status
// surface for embedding callers.
func (r *Runner) StatusService() *service.StatusService {
	return r.status
}

// Run starts the poll loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting processor runner")
	return r.poller.Run(ctx)
}

func wireProcessor(opts RunnerOptions) (*service.PollerService, *service.StatusService, error) {
	cfg := opts.Config

	client, err := wireUpstreamClient(opts)
	if err != nil {
		return nil, nil, err
	}

	jobStore := data.NewJobStore(opts.DB, data.StoreConfig{Logger: opts.Logger})
	recordStore := data.NewRecordStore(opts.DB, data.RecordStoreConfig{
		BatchSize: cfg.Processor.PersistBatchSize,
		Logger:    opts.Logger,
	})

	tracker, err := service.NewTrackerService(service.TrackerServiceOptions{
		Store:           jobStore,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
		FailureNotifier: opts.FailureNotifier,
		StaleThreshold:  cfg.Processor.StaleThreshold,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create tracker service: %w", err)
	}

	proc := opts.Processor
	if proc == nil {
		proc, err = wirePipeline(opts, client, tracker, recordStore)
		if err != nil {
			return nil, nil, err
		}
	}

	status, err := service.NewStatusService(service.StatusServiceOptions{
		Tracker:   tracker,
		Upstream:  client,
		Processor: proc,
		Cache:     opts.Cache,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create status service: %w", err)
	}

	poller, err := service.NewPollerService(service.PollerServiceOptions{
		Tracker:   tracker,
		Status:    status,
		Logger:    opts.Logger,
		Interval:  cfg.Processor.PollInterval,
		BatchSize: cfg.Processor.PollBatchSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create poller service: %w", err)
	}

	return poller, status, nil
}

func wireUpstreamClient(opts RunnerOptions) (core.ReportClient, error) {
	if opts.Upstream != nil {
		return opts.Upstream, nil
	}

	upstreamCfg := opts.Config.Upstream
	if err := upstreamCfg.Validate(); err != nil {
		return nil, err
	}

	client, err := upstream.NewClient(upstream.Options{
		BaseURL:     upstreamCfg.BaseURL,
		TokenSource: tokenSource(upstreamCfg),
		HTTPClient:  &http.Client{Timeout: upstreamCfg.Timeout},
		Logger:      opts.Logger,
		PageSize:    upstreamCfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}
	return client, nil
}

// tokenSource builds the OAuth2 token source: a static token in development,
// the client-credentials grant otherwise.
func tokenSource(cfg config.UpstreamConfig) oauth2.TokenSource {
	if cfg.StaticToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.StaticToken})
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return cc.TokenSource(context.Background())
}

func wirePipeline(
	opts RunnerOptions,
	client core.ReportClient,
	tracker *service.TrackerService,
	records core.RecordStore,
) (core.Processor, error) {
	cfg := opts.Config

	fetcher, err := pipeline.NewPageFetcher(pipeline.PageFetcherOptions{
		Client:   client,
		Logger:   opts.Logger,
		MaxPages: cfg.Processor.MaxPages,
	})
	if err != nil {
		return nil, fmt.Errorf("create page fetcher: %w", err)
	}

	enricher, err := pipeline.NewEnricher(pipeline.EnricherOptions{
		Client:          client,
		Cache:           opts.Cache,
		Logger:          opts.Logger,
		MetaBatchSize:   cfg.Enrichment.MetaBatchSize,
		StatusBatchSize: cfg.Enrichment.StatusBatchSize,
		Concurrency:     cfg.Enrichment.Concurrency,
		MetaCacheTTL:    cfg.Enrichment.MetaCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create enricher: %w", err)
	}

	formatter, err := pipeline.NewFormatter(pipeline.FormatterOptions{
		ExtraFields: cfg.Processor.ExtraMetricFields,
		Tags:        cfg.Processor.CollectionTags,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create formatter: %w", err)
	}

	proc, err := pipeline.NewProcessor(pipeline.ProcessorOptions{
		Tracker:              tracker,
		Fetcher:              fetcher,
		Enricher:             enricher,
		Formatter:            formatter,
		Records:              records,
		Logger:               opts.Logger,
		HeartbeatMinInterval: cfg.Processor.HeartbeatMinInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}
	return proc, nil
}
