package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/adsync/adsync/internal/domain/model"
	"github.com/adsync/adsync/internal/mocks"
)

type pollerHarness struct {
	store  *mocks.MockJobStore
	poller *PollerService
}

func newPollerHarness(t *testing.T) *pollerHarness {
	t.Helper()
	ctrl := gomock.NewController(t)

	h := &pollerHarness{store: mocks.NewMockJobStore(ctrl)}

	tracker, err := NewTrackerService(TrackerServiceOptions{
		Store:          h.store,
		StaleThreshold: 5 * time.Minute,
	})
	require.NoError(t, err)

	status, err := NewStatusService(StatusServiceOptions{
		Tracker:   tracker,
		Upstream:  mocks.NewMockReportClient(ctrl),
		Processor: mocks.NewMockProcessor(ctrl),
		RunAsync:  func(fn func()) { fn() },
	})
	require.NoError(t, err)

	h.poller, err = NewPollerService(PollerServiceOptions{
		Tracker:   tracker,
		Status:    status,
		Interval:  time.Hour, // only the immediate sweep runs in tests
		BatchSize: 10,
	})
	require.NoError(t, err)
	return h
}

func TestNewPollerService_Validation(t *testing.T) {
	_, err := NewPollerService(PollerServiceOptions{})
	assert.Error(t, err)

	ctrl := gomock.NewController(t)
	tracker, err := NewTrackerService(TrackerServiceOptions{
		Store:          mocks.NewMockJobStore(ctrl),
		StaleThreshold: time.Minute,
	})
	require.NoError(t, err)

	_, err = NewPollerService(PollerServiceOptions{Tracker: tracker})
	assert.Error(t, err)
}

func TestPollerService_SweepIsolatesJobFailures(t *testing.T) {
	h := newPollerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	fresh := &model.Job{
		ID:        "rpt-2",
		Owner:     "acct-1",
		Status:    model.JobStatusProcessing,
		UpdatedAt: time.Now(),
	}

	h.store.EXPECT().ListActive(gomock.Any(), 10).Return([]*model.Job{
		{ID: "rpt-1", Owner: "acct-1", Status: model.JobStatusProcessing},
		fresh,
	}, nil)

	// First job's poll fails; the sweep still services the second job, then
	// the test shuts the loop down from inside the final expectation.
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-1").
		Return(nil, assert.AnError)
	h.store.EXPECT().GetForOwner(gomock.Any(), "acct-1", "rpt-2").
		DoAndReturn(func(context.Context, string, string) (*model.Job, error) {
			cancel()
			return fresh, nil
		})

	assert.NoError(t, h.poller.Run(ctx))
}

func TestPollerService_ListFailureDoesNotCrashLoop(t *testing.T) {
	h := newPollerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	h.store.EXPECT().ListActive(gomock.Any(), 10).
		DoAndReturn(func(context.Context, int) ([]*model.Job, error) {
			cancel()
			return nil, assert.AnError
		})

	assert.NoError(t, h.poller.Run(ctx))
}

func TestPollerService_EmptySweep(t *testing.T) {
	h := newPollerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	h.store.EXPECT().ListActive(gomock.Any(), 10).
		DoAndReturn(func(context.Context, int) ([]*model.Job, error) {
			cancel()
			return nil, nil
		})

	assert.NoError(t, h.poller.Run(ctx))
}
