package transfer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBandwidthRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected int64
	}{
		{"", 0},
		{"0", 0},
		{"5MB/s", 5_000_000},
		{"100KB/s", 100_000},
		{"100KiB/s", 102_400},
		{"1MB", 1_000_000},
		{" 2MiB/s ", 2 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := parseBandwidthRate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseBandwidthRate_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"fast", "MB/s", "-5MB/s"} {
		_, err := parseBandwidthRate(input)
		assert.Error(t, err, input)
	}
}

func TestNewBandwidthLimiter_UnlimitedIsNil(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	bl, err := NewBandwidthLimiter("", logger)
	require.NoError(t, err)
	assert.Nil(t, bl)

	bl, err = NewBandwidthLimiter("0", logger)
	require.NoError(t, err)
	assert.Nil(t, bl)

	_, err = NewBandwidthLimiter("warp9", logger)
	assert.Error(t, err)
}

func TestBandwidthLimiter_NilWrappersPassThrough(t *testing.T) {
	t.Parallel()

	var bl *BandwidthLimiter

	r := strings.NewReader("data")
	assert.Equal(t, io.Reader(r), bl.WrapReader(context.Background(), r))

	var buf bytes.Buffer

	assert.Equal(t, io.Writer(&buf), bl.WrapWriter(context.Background(), &buf))
}

func TestBandwidthLimiter_WrappedCopyDelivers(t *testing.T) {
	t.Parallel()

	// Limit far above the payload so the test never sleeps.
	bl, err := NewBandwidthLimiter("10MB/s", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NotNil(t, bl)

	payload := bytes.Repeat([]byte("x"), 4096)
	ctx := context.Background()

	var out bytes.Buffer

	_, err = io.Copy(bl.WrapWriter(ctx, &out), bl.WrapReader(ctx, bytes.NewReader(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, out.Bytes())
}

func TestBandwidthLimiter_CancelledContextStopsWait(t *testing.T) {
	t.Parallel()

	bl, err := NewBandwidthLimiter("1KB/s", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 4KB against a 2KB burst forces a wait, which the dead context aborts.
	payload := bytes.Repeat([]byte("x"), 4096)

	var out bytes.Buffer

	_, err = io.Copy(&out, bl.WrapReader(ctx, bytes.NewReader(payload)))
	assert.Error(t, err)
}
