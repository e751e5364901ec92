// Package gethdb defines the core domain types shared across the storage
// engine: events, records, stream identity, and the tagged variants used by
// the append and read paths. These types have no I/O of their own; they are
// the vocabulary the WAL, the LSM index, and the processes exchange.
package gethdb

import (
	"crypto/sha512"
	"encoding/binary"

	"github.com/google/uuid"
)

// TombstoneRevision marks a stream as deleted in the index.
const TombstoneRevision = ^uint64(0)

// ContentType distinguishes opaque binary payloads from JSON ones. It does
// not affect how the engine stores or indexes an event; it is carried
// through for the benefit of clients.
type ContentType uint32

const (
	ContentTypeBinary ContentType = 0
	ContentTypeJSON   ContentType = 1
)

// StreamDeletedClass is the reserved event class that marks a stream as
// tombstoned. A committed event of this class is indexed at
// TombstoneRevision rather than at the revision it was framed with.
const StreamDeletedClass = "$stream-deleted"

// System stream names used for indexer/writer coordination and the
// virtual global stream.
const (
	SystemStream       = "$system"
	AllStream          = "$all"
	GlobalsStream      = "$globals"
	EventsWrittenClass = "$events-written"
	EventsIndexedClass = "$events-indexed"
)

// Event is a proposed event as submitted by a client. It is immutable once
// accepted by the writer.
type Event struct {
	ID          uuid.UUID
	ContentType ContentType
	Class       string
	Data        []byte
	Metadata    []byte
}

// Record is a committed event: a Event plus the identity and placement the
// writer assigned it. Records are never mutated after creation.
type Record struct {
	Event

	StreamName string
	Revision   uint64
	Position   uint64
}

// IsTombstone reports whether r is the stream-deletion marker.
func (r Record) IsTombstone() bool {
	return r.Class == StreamDeletedClass
}

// Hash returns the first 8 bytes of SHA-512(name), interpreted as a
// big-endian u64. This is the LSM index key for a stream name. Collisions
// are permitted by the index layer; callers that resolve a position from a
// hash must re-validate the stream name against the decoded record.
func Hash(name string) uint64 {
	sum := sha512.Sum512([]byte(name))
	return binary.BigEndian.Uint64(sum[:8])
}

// Direction selects forward or backward iteration order for a scan.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// RevisionPoint is the tagged `Start|End|Revision(u64)` variant used to
// describe where a read should begin.
type RevisionPointKind int

const (
	RevisionStart RevisionPointKind = iota
	RevisionEnd
	RevisionAt
)

type RevisionPoint struct {
	Kind     RevisionPointKind
	Revision uint64
}

func AtStart() RevisionPoint { return RevisionPoint{Kind: RevisionStart} }
func AtEnd() RevisionPoint   { return RevisionPoint{Kind: RevisionEnd} }
func AtRevision(r uint64) RevisionPoint {
	return RevisionPoint{Kind: RevisionAt, Revision: r}
}

// ExpectedRevisionKind tags the OCC precondition a client attaches to an
// append or delete request.
type ExpectedRevisionKind int

const (
	ExpectedAny ExpectedRevisionKind = iota
	ExpectedNoStream
	ExpectedStreamExists
	ExpectedRevisionValue
)

type ExpectedRevision struct {
	Kind     ExpectedRevisionKind
	Revision uint64
}

func Any() ExpectedRevision          { return ExpectedRevision{Kind: ExpectedAny} }
func NoStream() ExpectedRevision     { return ExpectedRevision{Kind: ExpectedNoStream} }
func StreamExists() ExpectedRevision { return ExpectedRevision{Kind: ExpectedStreamExists} }
func ExpectRevision(r uint64) ExpectedRevision {
	return ExpectedRevision{Kind: ExpectedRevisionValue, Revision: r}
}

// CurrentRevisionKind tags the observed state of a stream as reported by
// the index.
type CurrentRevisionKind int

const (
	CurrentNoStream CurrentRevisionKind = iota
	CurrentRevisionValue
)

type CurrentRevision struct {
	Kind     CurrentRevisionKind
	Revision uint64
}

func CurrentAbsent() CurrentRevision { return CurrentRevision{Kind: CurrentNoStream} }
func CurrentAt(r uint64) CurrentRevision {
	return CurrentRevision{Kind: CurrentRevisionValue, Revision: r}
}

// IsDeleted reports whether the current revision marks a tombstoned stream.
func (c CurrentRevision) IsDeleted() bool {
	return c.Kind == CurrentRevisionValue && c.Revision == TombstoneRevision
}

// NextRevision returns the revision the next appended event on this stream
// would receive.
func (c CurrentRevision) NextRevision() uint64 {
	if c.Kind == CurrentNoStream {
		return 0
	}
	return c.Revision + 1
}

// LogEntryType tags the kind of payload framed in the WAL. Only UserData is
// interpreted by the index today; the rest are reserved per spec.
type LogEntryType uint8

const (
	LogEntryUserData LogEntryType = 0
)

// LogEntry is the logical payload the WAL stores at a given position.
type LogEntry struct {
	Position uint64
	Type     LogEntryType
	Payload  []byte
}
