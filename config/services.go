package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeProcessor runs the collection processor: status polling,
	// claiming, and the fetch/enrich/persist pipeline.
	ServiceModeProcessor ServiceMode = "processor"
	// ServiceModeRetention runs the terminal-job retention sweeper.
	ServiceModeRetention ServiceMode = "retention"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeProcessor,
		ServiceModeRetention,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeProcessor, ServiceModeRetention:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: processor, retention)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ProcessorConfig contains collection processor configuration.
type ProcessorConfig struct {
	// StaleThreshold is how long an actively held job may go without a
	// heartbeat before another worker may resume it.
	StaleThreshold time.Duration `env:"PROCESSOR_STALE_THRESHOLD" envDefault:"2m"`

	// HeartbeatMinInterval is the minimum interval between throttled
	// progress heartbeats. Stage entries always write immediately.
	HeartbeatMinInterval time.Duration `env:"PROCESSOR_HEARTBEAT_MIN_INTERVAL" envDefault:"1s"`

	// PollInterval is how often the poll loop sweeps active jobs.
	PollInterval time.Duration `env:"PROCESSOR_POLL_INTERVAL" envDefault:"15s"`

	// PollBatchSize is the maximum number of active jobs serviced per sweep.
	PollBatchSize int `env:"PROCESSOR_POLL_BATCH_SIZE" envDefault:"50"`

	// MaxPages bounds result pagination as a runaway-cursor guard.
	MaxPages int `env:"PROCESSOR_MAX_PAGES" envDefault:"100"`

	// PersistBatchSize is the number of records per persistence batch.
	PersistBatchSize int `env:"PROCESSOR_PERSIST_BATCH_SIZE" envDefault:"500"`

	// ExtraMetricFields maps extra metric names to JMESPath expressions
	// evaluated against the raw upstream row, e.g.
	// "video_views:metrics.videoViews,engagements:metrics.engagements".
	ExtraMetricFields map[string]string `env:"PROCESSOR_EXTRA_METRIC_FIELDS" envDefault:""`

	// CollectionTags are applied to every creative record in a collection.
	CollectionTags []string `env:"PROCESSOR_COLLECTION_TAGS" envDefault:""`
}

// Sanitize applies guardrails to processor configuration values.
func (p *ProcessorConfig) Sanitize() {
	if p.StaleThreshold < 10*time.Second {
		p.StaleThreshold = 10 * time.Second
	}
	if p.HeartbeatMinInterval < time.Second {
		p.HeartbeatMinInterval = time.Second
	}
	if p.PollInterval < time.Second {
		p.PollInterval = time.Second
	}
	if p.PollBatchSize < 1 {
		p.PollBatchSize = 1
	}
	if p.MaxPages < 1 {
		p.MaxPages = 1
	}
	if p.PersistBatchSize < 1 {
		p.PersistBatchSize = 1
	}
}

// EnrichmentConfig contains enrichment pipeline configuration.
type EnrichmentConfig struct {
	// MetaBatchSize is the creative metadata batch size. Batches refused for
	// payload size are halved recursively at runtime.
	MetaBatchSize int `env:"ENRICHMENT_META_BATCH_SIZE" envDefault:"50"`

	// StatusBatchSize is the per-ad serving status batch size.
	StatusBatchSize int `env:"ENRICHMENT_STATUS_BATCH_SIZE" envDefault:"200"`

	// Concurrency bounds parallel metadata batch fetches.
	Concurrency int `env:"ENRICHMENT_CONCURRENCY" envDefault:"4"`

	// MetaCacheTTL is the TTL for cached creative metadata.
	MetaCacheTTL time.Duration `env:"ENRICHMENT_META_CACHE_TTL" envDefault:"6h"`
}

// Sanitize applies guardrails to enrichment configuration values.
func (e *EnrichmentConfig) Sanitize() {
	if e.MetaBatchSize < 1 {
		e.MetaBatchSize = 1
	}
	if e.StatusBatchSize < 1 {
		e.StatusBatchSize = 1
	}
	if e.Concurrency < 1 {
		e.Concurrency = 1
	}
	if e.MetaCacheTTL < time.Minute {
		e.MetaCacheTTL = time.Minute
	}
}

// RetentionConfig contains terminal-job retention sweeper configuration.
type RetentionConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"RETENTION_INTERVAL" envDefault:"5m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"RETENTION_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"RETENTION_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// CancelledMaxAge is the maximum age for cancelled jobs before deletion.
	CancelledMaxAge time.Duration `env:"RETENTION_CANCELLED_MAX_AGE" envDefault:"72h"` // 3 days

	// BatchSize is the maximum number of rows to delete per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"RETENTION_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to retention configuration values.
func (r *RetentionConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.CancelledMaxAge < 1*time.Hour {
		r.CancelledMaxAge = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
