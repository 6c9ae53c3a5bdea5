package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
	"github.com/adsync/adsync/internal/testutil"
)

func TestJobStore_Integration_CreateAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		store := NewJobStore(db, StoreConfig{})
		ctx := context.Background()

		req := testutil.NewJobRequest().
			WithID("rpt-create-1").
			WithOwner("acct-1").
			WithCollectionID("spring-campaign").
			Build()

		job, err := store.Create(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "rpt-create-1", job.ID)
		assert.Equal(t, "acct-1", job.Owner)
		assert.Equal(t, model.JobStatusUpstreamRunning, job.Status)
		assert.Zero(t, job.Progress)
		assert.Nil(t, job.ResultCount)
		assert.Equal(t, "spring-campaign", job.Config.CollectionID)

		got, err := store.GetByID(ctx, "rpt-create-1")
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.Config, got.Config)

		// Owner-scoped read
		got, err = store.GetForOwner(ctx, "acct-1", "rpt-create-1")
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)

		// Another owner's view is indistinguishable from a missing job
		_, err = store.GetForOwner(ctx, "acct-2", "rpt-create-1")
		assert.ErrorIs(t, err, model.ErrJobNotFound)

		_, err = store.GetByID(ctx, "rpt-missing")
		assert.ErrorIs(t, err, model.ErrJobNotFound)
	})
}

func TestJobStore_Integration_DuplicateCreateIsConflict(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		store := NewJobStore(db, StoreConfig{})
		ctx := context.Background()

		req := testutil.NewJobRequest().WithID("rpt-dup-1").Build()
		_, err := store.Create(ctx, req)
		require.NoError(t, err)

		_, err = store.Create(ctx, req)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})
}

func TestJobStore_Integration_Heartbeat(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		store := NewJobStore(db, StoreConfig{})
		ctx := context.Background()

		created, err := store.Create(ctx, testutil.NewJobRequest().WithID("rpt-hb-1").Build())
		require.NoError(t, err)
		require.True(t, created.Status.Active())

		err = store.Heartbeat(ctx, core.HeartbeatParams{
			JobID:    "rpt-hb-1",
			Status:   model.JobStatusProcessing,
			Progress: 42,
			Message:  "collecting report pages",
			Details:  model.JobDetails{Stage: "collecting", PagesCollected: 3},
		})
		require.NoError(t, err)

		job, err := store.GetByID(ctx, "rpt-hb-1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, job.Status)
		assert.Equal(t, 42, job.Progress)
		assert.Equal(t, "collecting report pages", job.Message)
		assert.Equal(t, "collecting", job.Details.Stage)
		assert.Equal(t, 3, job.Details.PagesCollected)

		// A later patch reporting different keys merges instead of clobbering
		err = store.Heartbeat(ctx, core.HeartbeatParams{
			JobID:    "rpt-hb-1",
			Status:   model.JobStatusProcessing,
			Progress: 55,
			Details:  model.JobDetails{TotalCollected: 120},
		})
		require.NoError(t, err)

		job, err = store.GetByID(ctx, "rpt-hb-1")
		require.NoError(t, err)
		assert.Equal(t, "collecting", job.Details.Stage)
		assert.Equal(t, 3, job.Details.PagesCollected)
		assert.Equal(t, 120, job.Details.TotalCollected)

		// Progress is clamped into 0..100
		err = store.Heartbeat(ctx, core.HeartbeatParams{
			JobID:    "rpt-hb-1",
			Status:   model.JobStatusProcessing,
			Progress: 150,
		})
		require.NoError(t, err)
		job, err = store.GetByID(ctx, "rpt-hb-1")
		require.NoError(t, err)
		assert.Equal(t, 100, job.Progress)
	})
}

func TestJobStore_Integration_HeartbeatRejections(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		store := NewJobStore(db, StoreConfig{})
		ctx := context.Background()

		err := store.Heartbeat(ctx, core.HeartbeatParams{
			JobID:  "rpt-gone",
			Status: model.JobStatusProcessing,
		})
		assert.ErrorIs(t, err, model.ErrJobNotFound)

		_, err = store.Create(ctx, testutil.NewJobRequest().WithID("rpt-hb-2").WithOwner("acct-1").Build())
		require.NoError(t, err)

		cancelled, err := store.MarkCancelled(ctx, "acct-1", "rpt-hb-2", "superseded")
		require.NoError(t, err)
		require.True(t, cancelled)

		// Terminal jobs reject heartbeats; workers use this as a stop signal.
		err = store.Heartbeat(ctx, core.HeartbeatParams{
			JobID:  "rpt-hb-2",
			Status: model.JobStatusProcessing,
		})
		assert.ErrorIs(t, err, model.ErrJobNotActive)
	})
}

func TestJobStore_Integration_ClaimProtocol(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		store := NewJobStore(db, StoreConfig{})
		ctx := context.Background()

		_, err := store.Create(ctx, testutil.NewJobRequest().WithID("rpt-claim-1").Build())
		require.NoError(t, err)

		// Claim before upstream completion fails
		won, err := store.TryClaimProcessing(ctx, "rpt-claim-1")
		require.NoError(t, err)
		assert.False(t, won)

		done, err := store.MarkUpstreamDone(ctx, "rpt-claim-1")
		require.NoError(t, err)
		assert.True(t, done)

		// MarkUpstreamDone is a one-shot transition
		done, err = store.MarkUpstreamDone(ctx, "rpt-claim-1")
		require.NoError(t, err)
		assert.False(t, done)

		// Concurrent claims: exactly one winner
		runner := testutil.NewConcurrentTestRunner(t, db)
		wins := make([]bool, 2)
		errs := runner.RunConcurrent(
			func() error {
				var claimErr error
				wins[0], claimErr = store.TryClaimProcessing(ctx, "rpt-claim-1")
				return claimErr
			},
			func() error {
				var claimErr error
				wins[1], claimErr = store.TryClaimProcessing(ctx, "rpt-claim-1")
				return claimErr
			},
		)
		runner.AssertNoErrors(errs)
		assert.NotEqual(t, wins[0], wins[1], "exactly one claim should win")

		job, err := store.GetByID(ctx, "rpt-claim-1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, job.Status)
	})
}

func TestJobStore_Integration_TryResumeStale(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		store := NewJobStore(db, StoreConfig{TimeProvider: tp})
		ctx := context.Background()

		_, err := store.Create(ctx, testutil.NewJobRequest().WithID("rpt-stale-1").Build())
		require.NoError(t, err)
		done, err := store.MarkUpstreamDone(ctx, "rpt-stale-1")
		require.NoError(t, err)
		require.True(t, done)
		won, err := store.TryClaimProcessing(ctx, "rpt-stale-1")
		require.NoError(t, err)
		require.True(t, won)

		// Fresh heartbeat: not resumable
		resumed, err := store.TryResumeStale(ctx, "rpt-stale-1", 2*time.Minute)
		require.NoError(t, err)
		assert.False(t, resumed)

		// Worker goes silent for five minutes
		tp.AddTime(5 * time.Minute)
		resumed, err = store.TryResumeStale(ctx, "rpt-stale-1", 2*time.Minute)
		require.NoError(t, err)
		assert.True(t, resumed)

		// The resume refreshed updated_at, so a second takeover attempt loses
		resumed, err = store.TryResumeStale(ctx, "rpt-stale-1", 2*time.Minute)
		require.NoError(t, err)
		assert.False(t, resumed)

		// Cancelled jobs are never revived, no matter how old
		job, err := store.GetByID(ctx, "rpt-stale-1")
		require.NoError(t, err)
		cancelled, err := store.MarkCancelled(ctx, job.Owner, "rpt-stale-1", "shutdown")
		require.NoError(t, err)
		require.True(t, cancelled)

		tp.AddTime(time.Hour)
		resumed, err = store.TryResumeStale(ctx, "rpt-stale-1", 2*time.Minute)
		require.NoError(t, err)
		assert.False(t, resumed)
	})
}

func TestJobStore_Integration_TerminalTransitions(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		store := NewJobStore(db, StoreConfig{})
		ctx := context.Background()

		setupProcessing := func(id string) {
			t.Helper()
			_, err := store.Create(ctx, testutil.NewJobRequest().WithID(id).WithOwner("acct-1").Build())
			require.NoError(t, err)
			done, err := store.MarkUpstreamDone(ctx, id)
			require.NoError(t, err)
			require.True(t, done)
			won, err := store.TryClaimProcessing(ctx, id)
			require.NoError(t, err)
			require.True(t, won)
		}

		t.Run("complete from processing", func(t *testing.T) {
			setupProcessing("rpt-term-1")

			completed, err := store.MarkCompleted(ctx, core.CompleteJobParams{
				JobID:        "rpt-term-1",
				ResultHandle: "spring-campaign",
				ResultCount:  12,
				Details:      model.JobDetails{RecordsPersisted: 24},
			})
			require.NoError(t, err)
			assert.True(t, completed)

			job, err := store.GetByID(ctx, "rpt-term-1")
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusCompleted, job.Status)
			assert.Equal(t, 100, job.Progress)
			require.NotNil(t, job.ResultCount)
			assert.Equal(t, 12, *job.ResultCount)
			assert.Equal(t, 24, job.Details.RecordsPersisted)

			// Terminal is sticky
			completed, err = store.MarkCompleted(ctx, core.CompleteJobParams{JobID: "rpt-term-1"})
			require.NoError(t, err)
			assert.False(t, completed)
		})

		t.Run("complete requires an active claim", func(t *testing.T) {
			_, err := store.Create(ctx, testutil.NewJobRequest().WithID("rpt-term-2").Build())
			require.NoError(t, err)

			completed, err := store.MarkCompleted(ctx, core.CompleteJobParams{JobID: "rpt-term-2"})
			require.NoError(t, err)
			assert.False(t, completed)
		})

		t.Run("fail from any non-terminal status", func(t *testing.T) {
			_, err := store.Create(ctx, testutil.NewJobRequest().WithID("rpt-term-3").Build())
			require.NoError(t, err)

			failed, err := store.MarkFailed(ctx, core.FailJobParams{
				JobID:   "rpt-term-3",
				Message: "upstream report failed",
			})
			require.NoError(t, err)
			assert.True(t, failed)

			job, err := store.GetByID(ctx, "rpt-term-3")
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusFailed, job.Status)
			assert.Equal(t, "upstream report failed", job.Message)

			failed, err = store.MarkFailed(ctx, core.FailJobParams{JobID: "rpt-term-3", Message: "again"})
			require.NoError(t, err)
			assert.False(t, failed)
		})

		t.Run("cancel is owner scoped", func(t *testing.T) {
			_, err := store.Create(ctx, testutil.NewJobRequest().WithID("rpt-term-4").WithOwner("acct-1").Build())
			require.NoError(t, err)

			cancelled, err := store.MarkCancelled(ctx, "acct-2", "rpt-term-4", "not mine")
			require.NoError(t, err)
			assert.False(t, cancelled)

			cancelled, err = store.MarkCancelled(ctx, "acct-1", "rpt-term-4", "superseded")
			require.NoError(t, err)
			assert.True(t, cancelled)

			job, err := store.GetByID(ctx, "rpt-term-4")
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusCancelled, job.Status)
			assert.Equal(t, "cancelled: superseded", job.Message)
		})
	})
}

func TestJobStore_Integration_ListActiveAndStats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		store := NewJobStore(db, StoreConfig{TimeProvider: tp})
		ctx := context.Background()

		// Three jobs created a minute apart, then the oldest one fails
		for i, id := range []string{"rpt-list-1", "rpt-list-2", "rpt-list-3"} {
			tp.SetTime(testutil.TestTime().Add(time.Duration(i) * time.Minute))
			_, err := store.Create(ctx, testutil.NewJobRequest().WithID(id).WithOwner("acct-1").Build())
			require.NoError(t, err)
		}
		failed, err := store.MarkFailed(ctx, core.FailJobParams{JobID: "rpt-list-2", Message: "boom"})
		require.NoError(t, err)
		require.True(t, failed)

		// Least recently updated first, terminal excluded
		jobs, err := store.ListActive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "rpt-list-1", jobs[0].ID)
		assert.Equal(t, "rpt-list-3", jobs[1].ID)

		jobs, err = store.ListActive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "rpt-list-1", jobs[0].ID)

		_, err = store.ListActive(ctx, 0)
		assert.Error(t, err)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.UpstreamRunning)
		assert.Equal(t, 1, stats.Failed)
	})
}
