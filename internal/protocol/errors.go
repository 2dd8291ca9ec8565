// Package protocol defines the uniform adapter interface each supported
// file-access protocol implements, plus the shared error taxonomy all
// adapter failures are normalized into.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// Sentinel errors for adapter failure classification.
// Use errors.Is(err, protocol.ErrAuth) to check.
var (
	ErrAuth      = errors.New("protocol: authentication failed")
	ErrNetwork   = errors.New("protocol: network error")
	ErrProtocol  = errors.New("protocol: protocol error")
	ErrNotFound  = errors.New("protocol: not found")
	ErrConfig    = errors.New("protocol: invalid configuration")
	ErrChecksum  = errors.New("protocol: checksum mismatch")
	ErrCancelled = errors.New("protocol: operation cancelled")
)

// AdapterError wraps a sentinel error with the protocol, operation, and
// remote path for debugging. The underlying library error is preserved in
// the message but classification happens only through the sentinel.
type AdapterError struct {
	Protocol string
	Op       string
	Path     string
	Message  string
	Err      error // sentinel, for errors.Is()
}

func (e *AdapterError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Protocol, e.Op, e.Path, e.Message)
	}

	return fmt.Sprintf("%s: %s: %s", e.Protocol, e.Op, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// wrapErr builds an AdapterError around err, classifying it into the shared
// taxonomy. A nil err returns nil so call sites can wrap unconditionally.
func wrapErr(proto, op, path string, err error) error {
	if err == nil {
		return nil
	}

	return &AdapterError{
		Protocol: proto,
		Op:       op,
		Path:     path,
		Message:  err.Error(),
		Err:      Classify(err),
	}
}

// Classify maps an arbitrary adapter/library error to a sentinel. Already
// classified errors pass through unchanged. Unrecognized errors fall back
// to ErrProtocol: the remote spoke, but not in a way we understand.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuth),
		errors.Is(err, ErrNetwork),
		errors.Is(err, ErrProtocol),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConfig),
		errors.Is(err, ErrChecksum),
		errors.Is(err, ErrCancelled):
		return err
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrNetwork
	case errors.Is(err, os.ErrNotExist), errors.Is(err, io.EOF):
		return ErrNotFound
	case isNetErr(err):
		return ErrNetwork
	case isAuthMessage(err):
		return ErrAuth
	default:
		return ErrProtocol
	}
}

// isNetErr reports whether err is a transport-level failure (dial, reset,
// timeout). These are the only errors the reconnect and retry loops treat
// as transient.
func isNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr)
}

// isAuthMessage sniffs library error text for authentication failures.
// The protocol client libraries return plain errors for bad credentials
// (FTP 530, SSH auth, SMB logon failure, HTTP 401/403), so string matching
// is the only portable classification available.
func isAuthMessage(err error) bool {
	msg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"530",
		"not logged in",
		"unable to authenticate",
		"logon failure",
		"authentication",
		"401",
		"403",
		"permission denied",
		"access denied",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
