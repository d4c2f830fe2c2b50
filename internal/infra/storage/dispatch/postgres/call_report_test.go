package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/infra/storage"
)

// setupCallReportTest connects to a test database container with migrations
// already applied.
func setupCallReportTest(t *testing.T) (context.Context, *pgxpool.Pool, *callReportStore, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	pool, containerCleanup := storage.SetupTestContainer(t)
	store := NewCallReportStore(pool, storage.NoOpTracer())

	cleanup := func() {
		if _, err := pool.Exec(ctx, "DELETE FROM call_reports"); err != nil {
			t.Logf("Failed to clean up call_reports table: %v", err)
		}
		containerCleanup()
	}
	return ctx, pool, store, cleanup
}

func createTestCallReport(t *testing.T, state dispatch.TaskState) dispatch.CallReport {
	t.Helper()

	req, err := dispatch.NewCallRequest(
		func(context.Context, dispatch.Conduit) (any, error) { return nil, nil },
		dispatch.WithCallableName("sync_repository"),
		dispatch.UpdatesResource(dispatch.ResourceTypeRepository, "zoo"),
		dispatch.WithTags("repo:zoo"),
	)
	require.NoError(t, err)

	report := dispatch.NewCallReport(req, "task-1", "group-1")
	report.State = state
	report.Response = dispatch.ResponseAccepted
	report.Result = map[string]any{"units_added": 3}
	now := time.Now().UTC()
	report.StartTime = &now
	report.FinishTime = &now
	return report
}

func TestCallReportStore_ArchiveAndGet(t *testing.T) {
	ctx, _, store, cleanup := setupCallReportTest(t)
	defer cleanup()

	report := createTestCallReport(t, dispatch.TaskStateFinished)
	require.NoError(t, store.Archive(ctx, report))

	archived, err := store.GetCallReport(ctx, report.CallRequestID)
	require.NoError(t, err)

	assert.Equal(t, report.CallRequestID, archived.CallRequestID)
	assert.Equal(t, "group-1", archived.GroupID)
	assert.Equal(t, "sync_repository", archived.CallableName)
	assert.Equal(t, dispatch.TaskStateFinished, archived.State)
	assert.Equal(t, "finished", archived.Report["state"])
	assert.Equal(t, map[string]any{"units_added": float64(3)}, archived.Report["result"])
	assert.False(t, archived.ArchivedAt.IsZero())
}

func TestCallReportStore_ArchiveOverwrites(t *testing.T) {
	ctx, pool, store, cleanup := setupCallReportTest(t)
	defer cleanup()

	report := createTestCallReport(t, dispatch.TaskStateError)
	require.NoError(t, store.Archive(ctx, report))

	report.State = dispatch.TaskStateFinished
	require.NoError(t, store.Archive(ctx, report))

	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM call_reports WHERE call_request_id = $1", report.CallRequestID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	archived, err := store.GetCallReport(ctx, report.CallRequestID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.TaskStateFinished, archived.State)
}

func TestCallReportStore_GetMissing(t *testing.T) {
	ctx, _, store, cleanup := setupCallReportTest(t)
	defer cleanup()

	_, err := store.GetCallReport(ctx, "missing")
	assert.True(t, errors.Is(err, dispatch.ErrCallNotFound))
}

func TestCallReportStore_List(t *testing.T) {
	ctx, _, store, cleanup := setupCallReportTest(t)
	defer cleanup()

	finished := createTestCallReport(t, dispatch.TaskStateFinished)
	failed := createTestCallReport(t, dispatch.TaskStateError)
	canceled := createTestCallReport(t, dispatch.TaskStateCanceled)
	for _, r := range []dispatch.CallReport{finished, failed, canceled} {
		require.NoError(t, store.Archive(ctx, r))
	}

	all, err := store.ListCallReports(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	errored, err := store.ListCallReports(ctx, []dispatch.TaskState{dispatch.TaskStateError, dispatch.TaskStateCanceled}, 10)
	require.NoError(t, err)
	require.Len(t, errored, 2)
	for _, r := range errored {
		assert.NotEqual(t, dispatch.TaskStateFinished, r.State)
	}

	limited, err := store.ListCallReports(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCallReportStore_PurgeBefore(t *testing.T) {
	ctx, pool, store, cleanup := setupCallReportTest(t)
	defer cleanup()

	old := createTestCallReport(t, dispatch.TaskStateFinished)
	recent := createTestCallReport(t, dispatch.TaskStateFinished)
	require.NoError(t, store.Archive(ctx, old))
	require.NoError(t, store.Archive(ctx, recent))

	_, err := pool.Exec(ctx, "UPDATE call_reports SET archived_at = NOW() - INTERVAL '2 hours' WHERE call_request_id = $1", old.CallRequestID)
	require.NoError(t, err)

	purged, err := store.PurgeBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = store.GetCallReport(ctx, old.CallRequestID)
	assert.True(t, errors.Is(err, dispatch.ErrCallNotFound))
	_, err = store.GetCallReport(ctx, recent.CallRequestID)
	assert.NoError(t, err)
}
