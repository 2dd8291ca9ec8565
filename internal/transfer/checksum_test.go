package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileChecksum(t *testing.T) {
	t.Parallel()

	data := []byte("checksum me\n")
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := fileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, digestOf(data), got)
}

func TestFileChecksum_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := fileChecksum(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
