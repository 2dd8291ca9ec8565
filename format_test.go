package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/landrive/internal/discovery"
)

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.0 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	t.Parallel()

	now := time.Now()

	assert.NotContains(t, formatTime(now), now.Format("2006"))

	lastYear := time.Date(now.Year()-1, time.March, 5, 12, 0, 0, 0, time.Local)
	assert.Contains(t, formatTime(lastYear), lastYear.Format("2006"))
}

func TestPrintTable(t *testing.T) {
	t.Parallel()

	var buf strings.Builder

	printTable(&buf, []string{"ID", "STATE"}, [][]string{
		{"nas", "connected"},
		{"backup-drive", "error"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	// Columns align on the widest cell.
	assert.True(t, strings.HasPrefix(lines[0], "ID            STATE"))
	assert.True(t, strings.HasPrefix(lines[1], "nas           connected"))
	assert.True(t, strings.HasPrefix(lines[2], "backup-drive  error"))
}

func TestParseFilter(t *testing.T) {
	t.Parallel()

	cmd := newScanCmd()

	f, err := parseFilter(cmd)
	require.NoError(t, err)
	assert.Equal(t, discovery.Filter{}, f)

	require.NoError(t, cmd.Flags().Set("type", "nas"))

	f, err = parseFilter(cmd)
	require.NoError(t, err)
	assert.Equal(t, discovery.DeviceTypeNAS, f.Type)

	require.NoError(t, cmd.Flags().Set("type", "toaster"))

	_, err = parseFilter(cmd)
	assert.Error(t, err)
}
