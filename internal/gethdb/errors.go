package gethdb

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds that carry no payload. Kinds that carry a
// payload (WrongExpectedRevision) are concrete error types below. All of
// them are matched with errors.Is/errors.As, never by string comparison.
var (
	// ErrStreamDeleted is returned when an append or read targets a
	// tombstoned stream. It is user-visible and terminal for that stream.
	ErrStreamDeleted = errors.New("gethdb: stream deleted")

	// ErrCorruption marks a length-mismatch, checksum failure, or
	// malformed manifest. It is fatal for the affected request; the
	// component surfaces it and the owning process is marked failed.
	ErrCorruption = errors.New("gethdb: corruption detected")

	// ErrTimeout is returned when a request/response pair exceeds its
	// deadline.
	ErrTimeout = errors.New("gethdb: request timed out")

	// ErrUnavailable is returned when the target process is not running
	// or is shutting down.
	ErrUnavailable = errors.New("gethdb: process unavailable")

	// ErrProtocol marks a malformed inter-process message.
	ErrProtocol = errors.New("gethdb: malformed message")
)

// WrongExpectedRevisionError is returned when an append or delete's OCC
// precondition does not match the stream's current revision.
type WrongExpectedRevisionError struct {
	Expected ExpectedRevision
	Current  CurrentRevision
}

func (e *WrongExpectedRevisionError) Error() string {
	return fmt.Sprintf("gethdb: wrong expected revision: expected=%+v current=%+v", e.Expected, e.Current)
}

// IOError wraps an underlying storage error. The filesystem backend returns
// it as soon as an operation fails; no layer retries the operation, whether
// the error is transient or persistent, and it is fatal for the request.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("gethdb: io error during %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }
