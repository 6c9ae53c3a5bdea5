// Package retention provides the adapter for running the terminal-job
// retention sweeper.
package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adsync/adsync/config"
	"github.com/adsync/adsync/internal/data"
	"github.com/adsync/adsync/internal/observability/statsd"
	"github.com/adsync/adsync/internal/service"
)

// Runner provides a simple adapter to run the retention sweeper.
type Runner struct {
	svc    *service.RetentionService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB      *sql.DB
	Config  *config.AppConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewRunner creates a new retention runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	store := data.NewJobStore(opts.DB, data.StoreConfig{Logger: opts.Logger})

	svc, err := service.NewRetentionService(service.RetentionServiceOptions{
		Store:   store,
		Config:  opts.Config.Retention,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create retention service: %w", err)
	}

	return &Runner{
		svc:    svc,
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

// Run starts the retention sweeper and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting retention runner")
	return r.svc.Run(ctx)
}
