package syncsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "syncstate.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	item := Item{ID: "task-1", Version: 3, Modified: time.Now().UTC()}
	require.NoError(t, store.Put(context.Background(), EntityTasks, item))

	got, ok, err := store.Get(context.Background(), EntityTasks, "task-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, int64(3), got.Version)

	_, ok, err = store.Get(context.Background(), EntityTasks, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get(context.Background(), EntityNotes, "task-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "syncstate.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), EntityNotes, Item{ID: "note-1", Version: 1}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	got, ok, err := reopened.Get(context.Background(), EntityNotes, "note-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Version)
}

func TestFileStore_MissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	_, ok, err := store.Get(context.Background(), EntityTasks, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_CorruptFileFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "syncstate.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}
