package transfer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(":memory:", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func testJob(id string, state JobState) *Job {
	now := time.Now()

	return &Job{
		ID:         id,
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/file.bin",
		DestPath:   "/tmp/file.bin",
		State:      state,
		TotalBytes: TotalUnknown,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	j := testJob("job-1", StateQueued)
	j.Checksum = "abc123"
	j.Resumable = true

	require.NoError(t, store.SaveJob(ctx, j))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, StateQueued, got.State)
	assert.Equal(t, "abc123", got.Checksum)
	assert.True(t, got.Resumable)
	assert.Equal(t, TotalUnknown, got.TotalBytes)
	assert.WithinDuration(t, j.CreatedAt, got.CreatedAt, time.Microsecond)
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStore_SaveIsUpsert(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	j := testJob("job-1", StateQueued)
	require.NoError(t, store.SaveJob(ctx, j))

	j.State = StateActive
	j.TotalBytes = 1000
	require.NoError(t, store.SaveJob(ctx, j))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, int64(1000), got.TotalBytes)
}

func TestStore_UpdateProgress(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveJob(ctx, testJob("job-1", StateActive)))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", 4096))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), got.BytesTransferred)
}

func TestStore_ListByState(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	low := testJob("low", StateQueued)
	high := testJob("high", StateQueued)
	high.Priority = 10
	high.CreatedAt = low.CreatedAt.Add(time.Second)

	require.NoError(t, store.SaveJob(ctx, low))
	require.NoError(t, store.SaveJob(ctx, high))
	require.NoError(t, store.SaveJob(ctx, testJob("done", StateCompleted)))

	queued, err := store.ListByState(ctx, StateQueued)
	require.NoError(t, err)
	require.Len(t, queued, 2)

	// Priority wins over age.
	assert.Equal(t, "high", queued[0].ID)
	assert.Equal(t, "low", queued[1].ID)
}

func TestStore_PurgeTerminalBefore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	old := testJob("old-done", StateCompleted)
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)

	fresh := testJob("fresh-done", StateFailed)
	active := testJob("old-active", StateActive)
	active.UpdatedAt = old.UpdatedAt

	require.NoError(t, store.SaveJob(ctx, old))
	require.NoError(t, store.SaveJob(ctx, fresh))
	require.NoError(t, store.SaveJob(ctx, active))

	n, err := store.PurgeTerminalBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetJob(ctx, "old-done")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// Non-terminal jobs are never purged regardless of age.
	_, err = store.GetJob(ctx, "old-active")
	assert.NoError(t, err)
}
