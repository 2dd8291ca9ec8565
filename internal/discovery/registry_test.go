package discovery

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MergeNewDevice(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	ev := r.Merge(Detection{ID: "192.168.1.10", Name: "nas", Type: DeviceTypeNAS, Addr: "192.168.1.10", Signal: 90})

	assert.Equal(t, EventFound, ev.Kind)
	assert.Equal(t, "nas", ev.Device.Name)
	assert.Equal(t, ev.Device.FirstSeen, ev.Device.LastSeen)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RepeatedDetectionDoesNotGrow(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	first := r.Merge(Detection{ID: "a", Addr: "10.0.0.1", Signal: 50})

	r.now = func() time.Time { return base.Add(time.Minute) }

	second := r.Merge(Detection{ID: "a", Addr: "10.0.0.1", Signal: 80})

	assert.Equal(t, EventFound, first.Kind)
	assert.Equal(t, EventUpdated, second.Kind)
	assert.Equal(t, 1, r.Len())

	d, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 80, d.Signal)
	assert.Equal(t, base.Add(time.Minute), d.LastSeen)
	assert.Equal(t, base, d.FirstSeen)
}

func TestRegistry_MarkSilent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Merge(Detection{ID: "stale", Addr: "10.0.0.1"})

	r.now = func() time.Time { return base.Add(2 * time.Minute) }

	r.Merge(Detection{ID: "fresh", Addr: "10.0.0.2"})

	evs := r.MarkSilent(90 * time.Second)
	require.Len(t, evs, 1)
	assert.Equal(t, EventLost, evs[0].Kind)
	assert.Equal(t, "stale", evs[0].Device.ID)

	// A second pass over the same silence does not re-report.
	assert.Empty(t, r.MarkSilent(90*time.Second))

	// Lost devices remain queryable until purged.
	d, ok := r.Get("stale")
	require.True(t, ok)
	assert.True(t, d.Lost)
}

func TestRegistry_LostDeviceRejoinsAsFound(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Merge(Detection{ID: "a", Addr: "10.0.0.1"})

	r.now = func() time.Time { return base.Add(5 * time.Minute) }

	require.Len(t, r.MarkSilent(time.Minute), 1)

	ev := r.Merge(Detection{ID: "a", Addr: "10.0.0.1"})
	assert.Equal(t, EventFound, ev.Kind)
	assert.False(t, ev.Device.Lost)
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	base := time.Now()

	for i := range 3 {
		r.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		r.Merge(Detection{ID: fmt.Sprintf("dev-%d", i), Addr: "10.0.0.1"})
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "dev-2", snap[0].ID)
	assert.Equal(t, "dev-0", snap[2].ID)
}

func TestRegistry_Purge(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Merge(Detection{ID: "keep", Addr: "10.0.0.1"})
	r.Merge(Detection{ID: "drop", Addr: "10.0.0.2"})

	r.now = func() time.Time { return base.Add(time.Hour) }

	r.Merge(Detection{ID: "keep", Addr: "10.0.0.1"})
	r.MarkSilent(time.Minute)

	assert.Equal(t, 1, r.Purge())
	assert.Equal(t, 1, r.Len())

	_, ok := r.Get("drop")
	assert.False(t, ok)
}

func TestFilter_Matches(t *testing.T) {
	t.Parallel()

	assert.True(t, Filter{}.Matches(DeviceTypePrinter))
	assert.True(t, Filter{Type: DeviceTypeNAS}.Matches(DeviceTypeNAS))
	assert.False(t, Filter{Type: DeviceTypeNAS}.Matches(DeviceTypeRouter))
}
