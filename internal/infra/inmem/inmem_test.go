package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setupTestStore(t *testing.T) (infra.Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC)}
	return NewWithClock(zaptest.NewLogger(t), clock.Now), clock
}

func TestInmem_SaveJob_CopiesInput(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	job := &models.ChunkJob{ID: "job-1", Status: models.JobStatusPending, DoneChunks: []int{0}}
	require.NoError(t, store.SaveJob(ctx, job))

	job.DoneChunks[0] = 5
	job.Status = models.JobStatusCancelled

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, []int{0}, got.DoneChunks)
}

func TestInmem_GetJob_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, infra.ErrNotFound)

	_, err = store.GetJob(context.Background(), "")
	assert.ErrorIs(t, err, ErrIDEmpty)
}

func TestInmem_SaveJob_Validation(t *testing.T) {
	store, _ := setupTestStore(t)

	assert.ErrorIs(t, store.SaveJob(context.Background(), nil), ErrJobNil)
	assert.ErrorIs(t, store.SaveJob(context.Background(), &models.ChunkJob{}), ErrIDEmpty)
}

func TestInmem_ListSweepableJobs(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	jobs := []*models.ChunkJob{
		{ID: "live", Status: models.JobStatusInProgress, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "expired", Status: models.JobStatusInProgress, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Minute)},
		{ID: "cancelled", Status: models.JobStatusCancelled, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)},
		{ID: "complete", Status: models.JobStatusComplete, CreatedAt: now.Add(-3 * time.Hour), ExpiresAt: now.Add(time.Hour)},
	}
	for _, j := range jobs {
		require.NoError(t, store.SaveJob(ctx, j))
	}

	got, err := store.ListSweepableJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "expired", got[0].ID)
	assert.Equal(t, "cancelled", got[1].ID)
}

func TestInmem_DeleteJob(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveJob(ctx, &models.ChunkJob{ID: "job-1"}))
	require.NoError(t, store.DeleteJob(ctx, "job-1"))
	assert.ErrorIs(t, store.DeleteJob(ctx, "job-1"), infra.ErrNotFound)
}

func TestInmem_Acquire_SingleHolder(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "full-import", time.Hour))
	assert.ErrorIs(t, store.Acquire(ctx, "full-import", time.Hour), infra.ErrLockHeld)
	assert.NoError(t, store.Acquire(ctx, "rollback", time.Hour))

	require.NoError(t, store.Release(ctx, "full-import"))
	assert.NoError(t, store.Acquire(ctx, "full-import", time.Hour))
}

func TestInmem_Acquire_TakesOverStaleLock(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "full-import", time.Hour))
	clock.Advance(61 * time.Minute)
	assert.NoError(t, store.Acquire(ctx, "full-import", time.Hour))
}

func TestInmem_ReleaseStale(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "old", time.Hour))
	clock.Advance(2 * time.Hour)
	require.NoError(t, store.Acquire(ctx, "fresh", time.Hour))

	released, err := store.ReleaseStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, released)
	assert.ErrorIs(t, store.Acquire(ctx, "fresh", time.Hour), infra.ErrLockHeld)
}

func TestInmem_History_Lifecycle(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()

	first := &models.HistoryEntry{ID: "h1", Type: models.HistoryTypeExport, Status: models.HistoryStatusRunning,
		StartedAt: clock.Now(), Context: map[string]any{"a": 1}}
	require.NoError(t, store.CreateHistory(ctx, first))
	assert.ErrorIs(t, store.CreateHistory(ctx, first), infra.ErrInvalidArg)

	clock.Advance(time.Minute)
	second := &models.HistoryEntry{ID: "h2", Type: models.HistoryTypeImport, Status: models.HistoryStatusRunning, StartedAt: clock.Now()}
	require.NoError(t, store.CreateHistory(ctx, second))

	first.Context["a"] = 2
	got, err := store.GetHistory(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Context["a"])

	list, err := store.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "h2", list[0].ID)

	list, err = store.ListHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	got.Status = models.HistoryStatusSuccess
	require.NoError(t, store.UpdateHistory(ctx, got))

	running, err := store.ListRunningHistory(ctx, clock.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "h2", running[0].ID)

	assert.ErrorIs(t, store.UpdateHistory(ctx, &models.HistoryEntry{ID: "nope"}), infra.ErrNotFound)
}

func TestInmem_Snapshots_NewestFirst(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, store.SaveSnapshot(ctx, &models.Snapshot{ID: id, CreatedAt: clock.Now()}))
		clock.Advance(time.Minute)
	}

	list, err := store.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "s3", list[0].ID)
	assert.Equal(t, "s1", list[2].ID)

	require.NoError(t, store.DeleteSnapshot(ctx, "s2"))
	_, err = store.GetSnapshot(ctx, "s2")
	assert.ErrorIs(t, err, infra.ErrNotFound)
}

func TestInmem_ContextCancelled(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetJob(ctx, "job-1")
	assert.ErrorIs(t, err, ErrContextDone)
	assert.ErrorIs(t, store.Acquire(ctx, "x", time.Hour), ErrContextDone)
}

func TestSiteDatabase_ReplaceAndStream(t *testing.T) {
	db := NewSiteDatabase(zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, db.ReplaceTable(ctx, "posts", []string{"id", "title"}, []models.Row{
		{"id": "1", "title": "a", "extra": "dropped"},
		{"id": "2", "title": "b"},
	}))

	var got []models.Row
	require.NoError(t, db.StreamRows(ctx, "posts", func(r models.Row) error {
		got = append(got, r)
		return nil
	}))
	assert.Equal(t, []models.Row{{"id": "1", "title": "a"}, {"id": "2", "title": "b"}}, got)

	got[0]["title"] = "mutated"
	cols, err := db.Columns(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title"}, cols)

	require.NoError(t, db.DropTable(ctx, "posts"))
	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)

	assert.ErrorIs(t, db.StreamRows(ctx, "posts", func(models.Row) error { return nil }), ErrTableMissing)
}
