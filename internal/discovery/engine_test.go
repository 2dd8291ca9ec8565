package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/landrive/internal/events"
)

// fakeProber emits a fixed detection set per pass.
type fakeProber struct {
	detections []Detection
	err        error
	passes     atomic.Int32
	block      chan struct{} // non-nil: wait before returning
}

func (p *fakeProber) Probe(ctx context.Context, _ Filter, emit func(Detection)) error {
	p.passes.Add(1)

	for _, det := range p.detections {
		emit(det)
	}

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
		}
	}

	return p.err
}

func newTestEngine(t *testing.T, prober Prober) *Engine {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	cfg := Config{ScanDuration: time.Second, SilenceWindow: 90 * time.Second}

	return NewEngine(cfg, prober, events.NewHub(logger), logger)
}

func TestEngine_ScanMergesDevices(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{detections: []Detection{
		{ID: "a", Addr: "10.0.0.1", Type: DeviceTypeNAS},
		{ID: "b", Addr: "10.0.0.2", Type: DeviceTypeComputer},
		{ID: "c", Addr: "10.0.0.3", Type: DeviceTypePrinter},
	}}

	e := newTestEngine(t, prober)

	<-e.StartScan(context.Background(), Filter{})

	assert.Len(t, e.Devices(), 3)
	assert.Equal(t, StateIdle, e.State())
	assert.NoError(t, e.LastError())
}

func TestEngine_SecondScanUpdatesNotDuplicates(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{detections: []Detection{
		{ID: "a", Addr: "10.0.0.1"},
		{ID: "b", Addr: "10.0.0.2"},
	}}

	e := newTestEngine(t, prober)

	eventCh, cancel := e.Subscribe()
	defer cancel()

	<-e.StartScan(context.Background(), Filter{})
	<-e.StartScan(context.Background(), Filter{})

	assert.Len(t, e.Devices(), 2)

	var found, updated int

	for len(eventCh) > 0 {
		ev := <-eventCh

		switch de := ev.Data.(DeviceEvent); de.Kind {
		case EventFound:
			found++
		case EventUpdated:
			updated++
		case EventLost:
		}
	}

	assert.Equal(t, 2, found)
	assert.Equal(t, 2, updated)
}

func TestEngine_FilterAppliesToEvents(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{detections: []Detection{
		{ID: "nas", Addr: "10.0.0.1", Type: DeviceTypeNAS},
		{ID: "printer", Addr: "10.0.0.2", Type: DeviceTypePrinter},
	}}

	e := newTestEngine(t, prober)

	<-e.StartScan(context.Background(), Filter{Type: DeviceTypeNAS})

	devices := e.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "nas", devices[0].ID)
}

func TestEngine_StartScanWhileScanningAttaches(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{block: make(chan struct{})}
	e := newTestEngine(t, prober)

	done1 := e.StartScan(context.Background(), Filter{})
	done2 := e.StartScan(context.Background(), Filter{})

	assert.Equal(t, StateScanning, e.State())

	close(prober.block)
	<-done1
	<-done2

	assert.Equal(t, int32(1), prober.passes.Load())
}

func TestEngine_ProbeFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{detections: []Detection{{ID: "a", Addr: "10.0.0.1"}}}
	e := newTestEngine(t, prober)

	<-e.StartScan(context.Background(), Filter{})
	require.Len(t, e.Devices(), 1)

	prober.err = errors.New("interface vanished")
	prober.detections = nil

	<-e.StartScan(context.Background(), Filter{})

	// The failed pass keeps the previous snapshot and reports the error.
	assert.Len(t, e.Devices(), 1)
	assert.ErrorIs(t, e.LastError(), ErrDiscovery)

	// A later clean pass clears it.
	prober.err = nil

	<-e.StartScan(context.Background(), Filter{})
	assert.NoError(t, e.LastError())
}

func TestEngine_StopScanEndsPass(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{
		detections: []Detection{{ID: "a", Addr: "10.0.0.1"}},
		block:      make(chan struct{}),
	}
	e := newTestEngine(t, prober)

	done := e.StartScan(context.Background(), Filter{})

	e.StopScan()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scan did not stop")
	}

	// Partial results merged before the stop are kept.
	assert.Len(t, e.Devices(), 1)
}

func TestSignalScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, signalScore(0, time.Second))
	assert.Equal(t, 50, signalScore(500*time.Millisecond, time.Second))
	assert.Equal(t, 0, signalScore(time.Second, time.Second))
	assert.Equal(t, 0, signalScore(time.Millisecond, 0))
}

func TestInferType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		services []string
		expected DeviceType
	}{
		{[]string{"jetdirect"}, DeviceTypePrinter},
		{[]string{"smb", "ftp"}, DeviceTypeNAS},
		{[]string{"smb"}, DeviceTypeComputer},
		{[]string{"sftp"}, DeviceTypeServer},
		{[]string{"webdav"}, DeviceTypeRouter},
		{nil, DeviceTypeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, inferType(tt.services))
	}
}
