// Package transfer implements the bounded-worker transfer engine: queued
// upload/download jobs executed against connected drives, with persisted
// resume offsets, checksum verification, backpressure, and cooperative
// cancellation.
package transfer

import (
	"time"
)

// Direction of a transfer job.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// JobState is the job lifecycle. Transitions are one-directional except
// active <-> paused; exactly one terminal state is reached per job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateActive    JobState = "active"
	StatePaused    JobState = "paused"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// jobTransitions encodes the legal lifecycle edges.
var jobTransitions = map[JobState][]JobState{
	StateQueued: {StateActive, StateCancelled},
	StateActive: {StatePaused, StateCompleted, StateFailed, StateCancelled},
	StatePaused: {StateActive, StateCancelled},
}

// canTransition reports whether from -> to is a legal job state change.
func canTransition(from, to JobState) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// Terminal reports whether s is a terminal state.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	case StateQueued, StateActive, StatePaused:
		return false
	}

	return false
}

// TotalUnknown is the TotalBytes value for jobs whose size could not be
// determined up front.
const TotalUnknown = int64(-1)

// Job is one queued upload or download with its own lifecycle. For uploads
// SourcePath is local and DestPath remote; for downloads the reverse.
type Job struct {
	ID               string    `json:"id"`
	DriveID          string    `json:"drive_id"`
	Direction        Direction `json:"direction"`
	SourcePath       string    `json:"source_path"`
	DestPath         string    `json:"dest_path"`
	State            JobState  `json:"state"`
	Priority         int       `json:"priority"`
	BytesTransferred int64     `json:"bytes_transferred"`
	TotalBytes       int64     `json:"total_bytes"` // TotalUnknown if not known
	Checksum         string    `json:"checksum,omitempty"`
	Retries          int       `json:"retries"`
	// Ranged records whether the drive's adapter supports byte-range
	// resume. False means a resumed job restarts from offset zero; the
	// flag is the caller's way to see which behavior applies.
	Ranged bool `json:"ranged"`
	// Resumable jobs keep partially-written destination data on cancel.
	Resumable bool      `json:"resumable"`
	LastError string    `json:"last_error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Request is the job submission shape.
type Request struct {
	DriveID    string    `json:"drive_id"`
	Direction  Direction `json:"direction"`
	SourcePath string    `json:"source_path"`
	DestPath   string    `json:"dest_path"`
	Priority   int       `json:"priority"`
	// Checksum is the source's digest (hex SHA-256) when the caller knows
	// it; the engine verifies the transferred bytes against it.
	Checksum  string `json:"checksum,omitempty"`
	Resumable bool   `json:"resumable"`
}

// Progress is one update on a job's progress stream.
type Progress struct {
	JobID string   `json:"job_id"`
	State JobState `json:"state"`
	Bytes int64    `json:"bytes"`
	Total int64    `json:"total"`
	Err   string   `json:"err,omitempty"`
}
