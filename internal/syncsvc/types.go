// Package syncsvc coordinates synchronization of independent per-entity-type
// record collections against a remote store, delegating file payloads to the
// transfer engine.
package syncsvc

import (
	"context"
	"encoding/json"
	"time"
)

// EntityType identifies one independently-synced record collection.
type EntityType string

const (
	EntityFiles     EntityType = "files"
	EntityTasks     EntityType = "tasks"
	EntityNotes     EntityType = "notes"
	EntityCalendar  EntityType = "calendar"
	EntityReminders EntityType = "reminders"
	EntityNetworks  EntityType = "networks"
	EntityDrives    EntityType = "drives"
)

// EntityTypes lists all known entity types in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityFiles, EntityTasks, EntityNotes, EntityCalendar,
		EntityReminders, EntityNetworks, EntityDrives,
	}
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityFiles, EntityTasks, EntityNotes, EntityCalendar,
		EntityReminders, EntityNetworks, EntityDrives:
		return true
	}

	return false
}

// Item is one syncable record: a stable id, a change marker, and an opaque
// payload. File items additionally carry the blob's location so the
// orchestrator can hand movement to the transfer engine.
type Item struct {
	ID       string          `json:"id"`
	Version  int64           `json:"version"`
	Modified time.Time       `json:"modified"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// File-bearing fields, empty for metadata-only entity types.
	DriveID    string `json:"drive_id,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
}

// changedSince reports whether the item is newer than the stored copy.
// Equal version and modification time means the record is already synced.
func (i Item) changedSince(stored Item) bool {
	if i.Version != stored.Version {
		return i.Version > stored.Version
	}

	return i.Modified.After(stored.Modified)
}

// Collections groups sync input by entity type.
type Collections map[EntityType][]Item

// Store is the remote metadata store the orchestrator reconciles against.
type Store interface {
	// Get loads the stored copy of a record, reporting whether it exists.
	Get(ctx context.Context, entityType EntityType, id string) (Item, bool, error)
	// Put writes a record, replacing any stored copy.
	Put(ctx context.Context, entityType EntityType, item Item) error
}

// Outcome is the result of one entity type's sync run.
type Outcome struct {
	Type    EntityType `json:"type"`
	Synced  int        `json:"synced"`
	Skipped int        `json:"skipped"`
	Err     error      `json:"-"`
	ErrText string     `json:"error,omitempty"`
}
