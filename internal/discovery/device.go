// Package discovery scans the local network and maintains a deduplicated,
// continuously-refreshed registry of reachable devices. The registry is
// mutated only by the Engine (single writer); all other components receive
// immutable snapshots or subscribe to change events.
package discovery

import "time"

// DeviceType categorizes a discovered network device.
type DeviceType string

const (
	DeviceTypeNAS      DeviceType = "nas"
	DeviceTypeComputer DeviceType = "computer"
	DeviceTypeServer   DeviceType = "server"
	DeviceTypeRouter   DeviceType = "router"
	DeviceTypePrinter  DeviceType = "printer"
	DeviceTypeUnknown  DeviceType = "unknown"
)

// Device is one entry in the discovery registry. Identity (ID) is the MAC
// address when the prober can resolve one, otherwise the network address.
// Re-discovery of the same identity updates the existing entry in place.
type Device struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      DeviceType        `json:"type"`
	Addr      string            `json:"addr"`
	Protocols []string          `json:"protocols"`
	Signal    int               `json:"signal"` // 0-100 quality score
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	Lost      bool              `json:"lost"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Detection is one raw observation reported by a Prober. The engine merges
// detections into the registry by ID.
type Detection struct {
	ID        string
	Name      string
	Type      DeviceType
	Addr      string
	Protocols []string
	Signal    int
	Metadata  map[string]string
}

// Filter narrows a scan pass to one device type. The zero value matches all.
type Filter struct {
	Type DeviceType
}

// Matches reports whether a device type passes the filter.
func (f Filter) Matches(t DeviceType) bool {
	return f.Type == "" || f.Type == t
}

// EventKind identifies a registry change.
type EventKind string

const (
	EventFound   EventKind = "found"
	EventUpdated EventKind = "updated"
	EventLost    EventKind = "lost"
)

// DeviceEvent is the payload published on the device topic. Device is a
// copy taken under the registry lock.
type DeviceEvent struct {
	Kind   EventKind `json:"kind"`
	Device Device    `json:"device"`
}
