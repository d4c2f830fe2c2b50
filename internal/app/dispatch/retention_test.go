package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/pkg/common/logger"
)

func TestNewArchiveRetention(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, Config{})
	repo := new(mockCallReportRepository)

	_, err := NewArchiveRetention(c, repo, 0, time.Minute, logger.Noop())
	assert.Error(t, err)

	r, err := NewArchiveRetention(c, repo, time.Hour, 0, logger.Noop())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, r.interval)
}

func TestArchiveRetention_SubmitPurge(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, Config{})
	repo := new(mockCallReportRepository)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-24 * time.Hour)
	repo.On("PurgeBefore", mock.Anything, cutoff).Return(int64(3), nil).Once()

	r, err := NewArchiveRetention(c, repo, 24*time.Hour, time.Hour, logger.Noop())
	require.NoError(t, err)
	r.timeProvider = &mockTimeProvider{now: now}

	report, err := r.SubmitPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "purge_archived_call_reports", report.CallableName)

	done := waitState(t, c, report.CallRequestID, domain.TaskStateFinished)
	assert.Equal(t, int64(3), done.Result)
	repo.AssertExpectations(t)
}

func TestArchiveRetention_PurgesQueueBehindEachOther(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, Config{})

	blocker := newGate()
	holder := newRequest(t, blocker.call,
		domain.UpdatesResource(domain.ResourceTypeSchedule, retentionScheduleID))
	_, err := c.ExecuteCallAsynchronously(context.Background(), holder)
	require.NoError(t, err)
	blocker.waitStarted(t)

	repo := new(mockCallReportRepository)
	repo.On("PurgeBefore", mock.Anything, mock.Anything).Return(int64(0), nil)

	r, err := NewArchiveRetention(c, repo, time.Hour, time.Hour, logger.Noop())
	require.NoError(t, err)

	report, err := r.SubmitPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ResponsePostponed, report.Response)
	repo.AssertNotCalled(t, "PurgeBefore", mock.Anything, mock.Anything)

	blocker.open()
	waitState(t, c, report.CallRequestID, domain.TaskStateFinished)
	repo.AssertNumberOfCalls(t, "PurgeBefore", 1)
}

func TestArchiveRetention_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, Config{})
	repo := new(mockCallReportRepository)
	repo.On("PurgeBefore", mock.Anything, mock.Anything).Return(int64(0), nil)

	r, err := NewArchiveRetention(c, repo, time.Hour, time.Hour, logger.Noop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		reports, err := c.FindCallReports(context.Background(), domain.CallReportFilter{})
		return err == nil && len(reports) == 1 && reports[0].State == domain.TaskStateFinished
	}, eventually, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(eventually):
		t.Fatal("Run did not return after cancellation")
	}
}
