// Package drive owns the lifecycle of configured virtual drives: connect,
// disconnect, and automatic reconnection over the protocol adapters.
package drive

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/landrive/internal/protocol"
)

// State is the per-drive connection state machine:
//
//	Disconnected -> Connecting -> Connected
//	Connecting   -> Error        (connect failure)
//	Connected    -> Disconnected (clean disconnect or unexpected drop)
//	Error        -> Connecting   (manual or scheduled retry)
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// validTransitions encodes the machine above. Transitions outside this set
// indicate a bug in the manager, not a runtime condition.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateError},
	StateConnecting:   {StateConnected, StateError, StateDisconnected},
	StateConnected:    {StateDisconnected},
	StateError:        {StateConnecting, StateDisconnected},
}

// canTransition reports whether from -> to is a legal state change.
func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// Status is the externally visible snapshot of one drive. LastError is the
// human-readable message; ErrorKind is the machine-readable sentinel name.
type Status struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Protocol          string `json:"protocol"`
	Server            string `json:"server"`
	Path              string `json:"path"`
	State             State  `json:"state"`
	LastError         string `json:"last_error,omitempty"`
	ErrorKind         string `json:"error_kind,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// errorKind maps a classified error to its taxonomy name for status output.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, protocol.ErrAuth):
		return "AuthError"
	case errors.Is(err, protocol.ErrConfig):
		return "ConfigError"
	case errors.Is(err, protocol.ErrNetwork):
		return "NetworkError"
	case errors.Is(err, protocol.ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, protocol.ErrChecksum):
		return "ChecksumError"
	case errors.Is(err, protocol.ErrCancelled):
		return "CancellationError"
	default:
		return "ProtocolError"
	}
}

// retriable reports whether a connect failure should enter the backoff
// loop. Authentication and configuration errors surface immediately
// instead of retrying.
func retriable(err error) bool {
	return !errors.Is(err, protocol.ErrAuth) && !errors.Is(err, protocol.ErrConfig)
}

// ErrUnknownDrive is returned for operations on an id that was never added
// or has been removed.
var ErrUnknownDrive = errors.New("drive: unknown drive id")

// ErrNotConnected is returned by AdapterFor when the drive has no live
// session.
var ErrNotConnected = fmt.Errorf("drive: not connected: %w", protocol.ErrNetwork)
