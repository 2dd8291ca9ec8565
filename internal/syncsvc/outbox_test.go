package syncsvc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOutboxFile(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadOutbox(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeOutboxFile(t, dir, "tasks.json", `[{"id":"task-1","version":1},{"id":"task-2","version":2}]`)
	writeOutboxFile(t, dir, "files.json", `[{"id":"file-1","version":1,"drive_id":"nas","local_path":"/tmp/a","remote_path":"/backup/a"}]`)
	writeOutboxFile(t, dir, "notes.json", `[]`)
	writeOutboxFile(t, dir, "README.txt", "not sync input")

	collections, err := LoadOutbox(dir)
	require.NoError(t, err)

	require.Len(t, collections, 2)
	assert.Len(t, collections[EntityTasks], 2)

	require.Len(t, collections[EntityFiles], 1)
	assert.Equal(t, "nas", collections[EntityFiles][0].DriveID)

	// Empty arrays mean nothing pending for that type.
	assert.NotContains(t, collections, EntityNotes)
}

func TestLoadOutbox_MissingDir(t *testing.T) {
	t.Parallel()

	collections, err := LoadOutbox(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, collections)
}

func TestLoadOutbox_UnknownTypeFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeOutboxFile(t, dir, "gadgets.json", `[]`)

	_, err := LoadOutbox(dir)
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestLoadOutbox_MalformedFileFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeOutboxFile(t, dir, "tasks.json", `{broken`)

	_, err := LoadOutbox(dir)
	assert.Error(t, err)
}
