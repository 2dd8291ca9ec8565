package discovery

import (
	"slices"
	"sync"
	"time"
)

// Registry is the deduplicated set of known devices. All mutation goes
// through the Engine; readers get value-copied snapshots. A device that
// misses its silence window is marked lost but stays queryable until
// Purge, so a single missed probe does not make a device flicker out.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	now     func() time.Time // injectable for tests
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		now:     time.Now,
	}
}

// Merge folds one detection into the registry. A new identity (or a device
// previously marked lost) produces a found event; a re-detection refreshes
// LastSeen and Signal in place and produces an updated event. The returned
// event carries a copy of the device.
func (r *Registry) Merge(det Detection) DeviceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	d, ok := r.devices[det.ID]
	if !ok {
		d = &Device{
			ID:        det.ID,
			Name:      det.Name,
			Type:      det.Type,
			Addr:      det.Addr,
			Protocols: det.Protocols,
			Signal:    det.Signal,
			FirstSeen: now,
			LastSeen:  now,
			Metadata:  det.Metadata,
		}
		r.devices[det.ID] = d

		return DeviceEvent{Kind: EventFound, Device: *d}
	}

	rejoined := d.Lost

	d.LastSeen = now
	d.Signal = det.Signal
	d.Lost = false
	d.Addr = det.Addr

	if det.Name != "" {
		d.Name = det.Name
	}

	if det.Type != DeviceTypeUnknown && det.Type != "" {
		d.Type = det.Type
	}

	if len(det.Protocols) > 0 {
		d.Protocols = det.Protocols
	}

	for k, v := range det.Metadata {
		if d.Metadata == nil {
			d.Metadata = make(map[string]string)
		}

		d.Metadata[k] = v
	}

	if rejoined {
		return DeviceEvent{Kind: EventFound, Device: *d}
	}

	return DeviceEvent{Kind: EventUpdated, Device: *d}
}

// MarkSilent flags devices not seen within window as lost, returning one
// lost event per newly-flagged device. Already-lost devices are skipped so
// the found -> updated* -> lost ordering holds per identity.
func (r *Registry) MarkSilent(window time.Duration) []DeviceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-window)

	var evs []DeviceEvent

	for _, d := range r.devices {
		if d.Lost || d.LastSeen.After(cutoff) {
			continue
		}

		d.Lost = true
		evs = append(evs, DeviceEvent{Kind: EventLost, Device: *d})
	}

	return evs
}

// Snapshot returns a value copy of every device, ordered most-recently-seen
// first.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}

	slices.SortFunc(out, func(a, b Device) int {
		return b.LastSeen.Compare(a.LastSeen)
	})

	return out
}

// Get returns a copy of one device by identity.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}

	return *d, true
}

// Purge removes all devices currently marked lost and returns how many
// were dropped.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int

	for id, d := range r.devices {
		if d.Lost {
			delete(r.devices, id)
			n++
		}
	}

	return n
}

// Len returns the number of registered devices, lost ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}
