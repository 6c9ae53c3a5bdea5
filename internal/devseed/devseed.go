// Package devseed populates a development database with sample collection
// data so the stores can be inspected without a live upstream.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/data"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB      *sql.DB
	jobs    *data.JobStore
	records *data.RecordStore
}

// NewServices constructs the stores used for seeding against the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:      db,
		jobs:    data.NewJobStore(db, data.StoreConfig{}),
		records: data.NewRecordStore(db, data.RecordStoreConfig{}),
	}
}

const seedOwner = "dev-account"

// Run seeds a finished sample collection and one in-flight job. Record
// upserts are idempotent; duplicate job creates are tolerated so the
// seeder can run on every startup.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if err := seedCompletedCollection(ctx, svcs, logger); err != nil {
		return err
	}
	if err := seedInFlightJob(ctx, svcs, logger); err != nil {
		return err
	}
	return nil
}

func seedCompletedCollection(ctx context.Context, svcs Services, logger *slog.Logger) error {
	const collectionID = "dev-spring-sale"

	created, err := createJobIfAbsent(ctx, svcs.jobs, &model.CreateJobRequest{
		ID: "rpt-dev-completed",
		Config: model.JobConfig{
			Owner:        seedOwner,
			CollectionID: collectionID,
			StartDate:    "2024-01-01",
			EndDate:      "2024-01-31",
		},
		Message: "seeded for development",
	})
	if err != nil {
		return fmt.Errorf("seed completed job: %w", err)
	}

	if _, err = svcs.records.UpsertCreatives(ctx, collectionID, sampleCreatives()); err != nil {
		return fmt.Errorf("seed creatives: %w", err)
	}
	if _, err = svcs.records.UpsertMetrics(ctx, collectionID, sampleMetrics()); err != nil {
		return fmt.Errorf("seed metrics: %w", err)
	}

	if created {
		if err = finishSeedJob(ctx, svcs.jobs, "rpt-dev-completed", collectionID); err != nil {
			return err
		}
	}

	if logger != nil {
		msg := "sample collection already seeded"
		if created {
			msg = "seeded sample collection"
		}
		logger.InfoContext(ctx, msg, "collection_id", collectionID)
	}
	return nil
}

// finishSeedJob walks the freshly created job through its lifecycle so it
// lands in the completed state with believable progress details.
func finishSeedJob(ctx context.Context, jobs *data.JobStore, jobID, collectionID string) error {
	if _, err := jobs.MarkUpstreamDone(ctx, jobID); err != nil {
		return fmt.Errorf("seed job %s: mark upstream done: %w", jobID, err)
	}
	if _, err := jobs.TryClaimProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("seed job %s: claim: %w", jobID, err)
	}
	stats, err := dataStatsForSeed()
	if err != nil {
		return err
	}
	if _, err = jobs.MarkCompleted(ctx, core.CompleteJobParams{
		JobID:        jobID,
		ResultHandle: collectionID,
		ResultCount:  stats.rows,
		Details: model.JobDetails{
			Stage:            "persist",
			PagesCollected:   1,
			TotalCollected:   stats.rows,
			EntitiesEnriched: stats.creatives,
			RecordsPersisted: stats.rows + stats.creatives,
		},
	}); err != nil {
		return fmt.Errorf("seed job %s: complete: %w", jobID, err)
	}
	return nil
}

type seedStats struct {
	rows      int
	creatives int
}

func dataStatsForSeed() (seedStats, error) {
	rows := len(sampleMetrics())
	creatives := len(sampleCreatives())
	if rows == 0 || creatives == 0 {
		return seedStats{}, fmt.Errorf("seed fixtures are empty: %d rows, %d creatives", rows, creatives)
	}
	return seedStats{rows: rows, creatives: creatives}, nil
}

func seedInFlightJob(ctx context.Context, svcs Services, logger *slog.Logger) error {
	created, err := createJobIfAbsent(ctx, svcs.jobs, &model.CreateJobRequest{
		ID: "rpt-dev-running",
		Config: model.JobConfig{
			Owner:        seedOwner,
			CollectionID: "dev-summer-preview",
			StartDate:    "2024-06-01",
			EndDate:      "2024-06-30",
		},
		Message: "seeded for development",
	})
	if err != nil {
		return fmt.Errorf("seed in-flight job: %w", err)
	}
	if logger != nil && created {
		logger.InfoContext(ctx, "seeded in-flight job", "id", "rpt-dev-running")
	}
	return nil
}

func createJobIfAbsent(ctx context.Context, jobs *data.JobStore, req *model.CreateJobRequest) (bool, error) {
	if _, err := jobs.Create(ctx, req); err != nil {
		if apperrors.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func sampleCreatives() []model.CreativeRecord {
	return []model.CreativeRecord{
		{
			Name:           "spring-hero-banner",
			Title:          "Spring Sale - Up To 40% Off",
			ImageURL:       "https://cdn.example.com/spring/hero.png",
			DestinationURL: "https://shop.example.com/spring-sale",
			Category:       "seasonal",
			ServingState:   "serving",
			AdIDs:          []string{"ad-1001", "ad-1002"},
			Tags:           []string{"spring", "hero"},
		},
		{
			Name:           "spring-footwear",
			Title:          "New Season Footwear",
			ImageURL:       "https://cdn.example.com/spring/footwear.png",
			DestinationURL: "https://shop.example.com/footwear",
			Category:       "footwear",
			ServingState:   "paused",
			AdIDs:          []string{"ad-1003"},
			Tags:           []string{"spring"},
		},
	}
}

func sampleMetrics() []model.MetricRecord {
	dates := []string{"2024-01-10", "2024-01-11", "2024-01-12"}
	out := make([]model.MetricRecord, 0, len(dates)*2)
	for i, date := range dates {
		base := int64(1000 * (i + 1))
		out = append(out,
			model.MetricRecord{
				AdID:        "ad-1001",
				Date:        date,
				Name:        "spring-hero-banner",
				Impressions: base,
				Clicks:      base / 20,
				CostMicros:  base * 1500,
				Conversions: int64(i + 1),
				Extras:      map[string]float64{"video_views": float64(base / 4)},
			},
			model.MetricRecord{
				AdID:        "ad-1003",
				Date:        date,
				Name:        "spring-footwear",
				Impressions: base / 2,
				Clicks:      base / 50,
				CostMicros:  base * 700,
				Conversions: int64(i),
			},
		)
	}
	return out
}
