package syncsvc

import "time"

// SyncState is the lifecycle of one entity type's status record.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncRunning SyncState = "syncing"
	SyncSuccess SyncState = "success"
	SyncError   SyncState = "error"
)

// SyncStatus tracks the most recent sync run per entity type. Created
// lazily on the first sync attempt and overwritten on every cycle, never
// deleted.
type SyncStatus struct {
	Type         EntityType `json:"type"`
	State        SyncState  `json:"state"`
	LastSyncTime time.Time  `json:"last_sync_time"`
	LastError    string     `json:"last_error,omitempty"`
}
