package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
	"github.com/adsync/adsync/internal/mocks"
)

type statusHarness struct {
	store     *mocks.MockJobStore
	upstream  *mocks.MockReportClient
	processor *mocks.MockProcessor
	cache     *mocks.MockCacheRepository
	svc       *StatusService
	now       time.Time
}

// newStatusHarness wires a StatusService over mocks with a fixed clock and a
// synchronous RunAsync so launched processing is observable in the test body.
func newStatusHarness(t *testing.T, withCache bool) *statusHarness {
	t.Helper()
	ctrl := gomock.NewController(t)

	h := &statusHarness{
		store:     mocks.NewMockJobStore(ctrl),
		upstream:  mocks.NewMockReportClient(ctrl),
		processor: mocks.NewMockProcessor(ctrl),
		now:       time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	tracker, err := NewTrackerService(TrackerServiceOptions{
		Store:          h.store,
		StaleThreshold: 5 * time.Minute,
	})
	require.NoError(t, err)

	opts := StatusServiceOptions{
		Tracker:   tracker,
		Upstream:  h.upstream,
		Processor: h.processor,
		Now:       func() time.Time { return h.now },
		RunAsync:  func(fn func()) { fn() },
	}
	if withCache {
		h.cache = mocks.NewMockCacheRepository(ctrl)
		opts.Cache = h.cache
	}

	h.svc, err = NewStatusService(opts)
	require.NoError(t, err)
	return h
}

func collectionRequest() *model.CreateCollectionRequest {
	return &model.CreateCollectionRequest{
		Owner:        "acct-1",
		StartDate:    "2024-01-01",
		EndDate:      "2024-01-31",
		CollectionID: "spring-campaign",
	}
}

func jobInStatus(status model.JobStatus) *model.Job {
	return &model.Job{
		ID:     "rpt-1",
		Owner:  "acct-1",
		Status: status,
		Config: model.JobConfig{
			Owner:        "acct-1",
			StartDate:    "2024-01-01",
			EndDate:      "2024-01-31",
			CollectionID: "spring-campaign",
		},
	}
}

func TestStatusService_CreateCollection(t *testing.T) {
	h := newStatusHarness(t, false)
	req := collectionRequest()

	h.upstream.EXPECT().StartReport(gomock.Any(), model.ReportRequest{
		Owner:     "acct-1",
		StartDate: "2024-01-01",
		EndDate:   "2024-01-31",
	}).Return("rpt-new", nil)

	h.store.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, createReq *model.CreateJobRequest) (*model.Job, error) {
			assert.Equal(t, "rpt-new", createReq.ID)
			assert.Equal(t, "spring-campaign", createReq.Config.CollectionID)
			return &model.Job{ID: createReq.ID, Owner: "acct-1", Status: model.JobStatusUpstreamRunning}, nil
		})

	job, err := h.svc.CreateCollection(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "rpt-new", job.ID)
}

func TestStatusService_CreateCollectionValidation(t *testing.T) {
	h := newStatusHarness(t, false)

	_, err := h.svc.CreateCollection(context.Background(), nil)
	assert.True(t, apperrors.IsValidation(err))

	bad := collectionRequest()
	bad.Owner = ""
	_, err = h.svc.CreateCollection(context.Background(), bad)
	assert.True(t, apperrors.IsValidation(err))
}

func TestStatusService_CreateCollectionDuplicateGuard(t *testing.T) {
	h := newStatusHarness(t, true)
	req := collectionRequest()

	h.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, nil)

	// No upstream submission, no job row.
	_, err := h.svc.CreateCollection(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestStatusService_CreateCollectionReleasesGuardOnUpstreamFailure(t *testing.T) {
	h := newStatusHarness(t, true)
	req := collectionRequest()

	h.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(true, nil)
	h.upstream.EXPECT().StartReport(gomock.Any(), gomock.Any()).
		Return("", apperrors.UpstreamTransient("503"))
	h.cache.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(true, nil)

	_, err := h.svc.CreateCollection(context.Background(), req)
	require.Error(t, err)
}

func TestStatusService_CreateCollectionGuardOutageDoesNotBlock(t *testing.T) {
	h := newStatusHarness(t, true)
	req := collectionRequest()

	h.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, assert.AnError)
	h.upstream.EXPECT().StartReport(gomock.Any(), gomock.Any()).Return("rpt-new", nil)
	h.store.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(&model.Job{ID: "rpt-new"}, nil)

	_, err := h.svc.CreateCollection(context.Background(), req)
	require.NoError(t, err)
}

func TestStatusService_PollTerminalJob(t *testing.T) {
	h := newStatusHarness(t, false)

	job := jobInStatus(model.JobStatusCompleted)
	count := 42
	job.ResultCount = &count
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").Return(job, nil)

	resp, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, resp.Status)
	require.NotNil(t, resp.ResultHandle)
	assert.Equal(t, "spring-campaign", *resp.ResultHandle)
	require.NotNil(t, resp.ResultCount)
	assert.Equal(t, 42, *resp.ResultCount)
}

func TestStatusService_PollRecordsUpstreamCompletionAndLaunches(t *testing.T) {
	h := newStatusHarness(t, false)

	running := jobInStatus(model.JobStatusUpstreamRunning)
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").Return(running, nil)
	h.upstream.EXPECT().GetReportStatus(gomock.Any(), "rpt-1").
		Return(&model.ReportStatus{State: model.ReportStateCompleted, Percent: 100}, nil)
	h.store.EXPECT().MarkUpstreamDone(gomock.Any(), "rpt-1").Return(true, nil)
	h.store.EXPECT().TryClaimProcessing(gomock.Any(), "rpt-1").Return(true, nil)
	h.processor.EXPECT().Process(gomock.Any(), "rpt-1").Return(nil)
	// refreshed caller-facing view
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusProcessing), nil)

	resp, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, resp.Status)
}

func TestStatusService_PollClaimLostDoesNotLaunch(t *testing.T) {
	h := newStatusHarness(t, false)

	// upstream_done from a crash window: this poll retries the claim but
	// another worker wins it.
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusUpstreamDone), nil)
	h.store.EXPECT().TryClaimProcessing(gomock.Any(), "rpt-1").Return(false, nil)

	resp, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusUpstreamDone, resp.Status)
}

func TestStatusService_PollUpstreamAuthFailureFailsJob(t *testing.T) {
	h := newStatusHarness(t, false)

	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusUpstreamRunning), nil)
	h.upstream.EXPECT().GetReportStatus(gomock.Any(), "rpt-1").
		Return(nil, apperrors.UpstreamAuth("401"))
	h.store.EXPECT().MarkFailed(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params core.FailJobParams) (bool, error) {
			assert.Contains(t, params.Message, "refresh the upstream authorization")
			return true, nil
		})
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusFailed), nil)

	resp, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, resp.Status)
}

func TestStatusService_PollTransientUpstreamFailureLeavesJobUntouched(t *testing.T) {
	h := newStatusHarness(t, false)

	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusUpstreamRunning), nil)
	h.upstream.EXPECT().GetReportStatus(gomock.Any(), "rpt-1").
		Return(nil, apperrors.UpstreamTransient("503"))

	// No MarkFailed: the next poll is the retry.
	resp, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusUpstreamRunning, resp.Status)
}

func TestStatusService_PollUpstreamFailedReportFailsJob(t *testing.T) {
	h := newStatusHarness(t, false)

	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusUpstreamRunning), nil)
	h.upstream.EXPECT().GetReportStatus(gomock.Any(), "rpt-1").
		Return(&model.ReportStatus{State: model.ReportStateFailed, Error: "query too broad"}, nil)
	h.store.EXPECT().MarkFailed(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params core.FailJobParams) (bool, error) {
			assert.Contains(t, params.Message, "query too broad")
			return true, nil
		})
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusFailed), nil)

	resp, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, resp.Status)
}

func TestStatusService_PollRecordsUpstreamProgress(t *testing.T) {
	h := newStatusHarness(t, false)

	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusUpstreamRunning), nil)
	h.upstream.EXPECT().GetReportStatus(gomock.Any(), "rpt-1").
		Return(&model.ReportStatus{State: model.ReportStateRunning, Percent: 50}, nil)
	h.store.EXPECT().Heartbeat(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params core.HeartbeatParams) error {
			// 50% upstream maps onto the 0-40 band.
			assert.Equal(t, 20, params.Progress)
			assert.Equal(t, model.JobStatusUpstreamRunning, params.Status)
			return nil
		})
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(jobInStatus(model.JobStatusUpstreamRunning), nil)

	_, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
}

func TestStatusService_PollResumesStaleJob(t *testing.T) {
	h := newStatusHarness(t, false)

	stale := jobInStatus(model.JobStatusProcessing)
	stale.UpdatedAt = h.now.Add(-10 * time.Minute)
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").Return(stale, nil)
	h.store.EXPECT().TryResumeStale(gomock.Any(), "rpt-1", 5*time.Minute).Return(true, nil)
	h.processor.EXPECT().Process(gomock.Any(), "rpt-1").Return(nil)

	resp, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, resp.Status)
}

func TestStatusService_PollStaleResumeLostDoesNotLaunch(t *testing.T) {
	h := newStatusHarness(t, false)

	// The job looked stale to us, but the store predicate says otherwise
	// (heartbeat landed, or the job was cancelled). No relaunch.
	stale := jobInStatus(model.JobStatusPersisting)
	stale.UpdatedAt = h.now.Add(-time.Hour)
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").Return(stale, nil)
	h.store.EXPECT().TryResumeStale(gomock.Any(), "rpt-1", 5*time.Minute).Return(false, nil)

	_, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
}

func TestStatusService_PollActiveFreshJobDoesNothing(t *testing.T) {
	h := newStatusHarness(t, false)

	active := jobInStatus(model.JobStatusProcessing)
	active.UpdatedAt = h.now.Add(-time.Minute)
	active.Progress = 35
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").Return(active, nil)

	resp, err := h.svc.Poll(context.Background(), "acct-1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, 35, resp.Progress)
}

func TestStatusService_PollUnknownJob(t *testing.T) {
	h := newStatusHarness(t, false)

	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-x").
		Return(nil, model.ErrJobNotFound)

	_, err := h.svc.Poll(context.Background(), "acct-1", "rpt-x")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestStatusService_Cancel(t *testing.T) {
	h := newStatusHarness(t, false)

	h.store.EXPECT().MarkCancelled(gomock.Any(), "acct-1", "rpt-1", "superseded").Return(true, nil)

	result, err := h.svc.Cancel(context.Background(), "acct-1", []string{"rpt-1"}, "superseded")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)
}

func TestNewStatusService_Validation(t *testing.T) {
	_, err := NewStatusService(StatusServiceOptions{})
	assert.Error(t, err)
}
