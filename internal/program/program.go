// Package program defines the envelope GethDB uses to hand a
// programmable subscription's definition to its host runtime. The
// runtime that actually executes a program's eventql/pyro script is a
// separate collaborator; this package only owns the wire shape and the
// lifecycle the engine tracks locally (listing, fetching, stopping).
package program

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ID identifies one running or registered program.
type ID struct{ uuid uuid.UUID }

func (id ID) String() string { return id.uuid.String() }

// NewID generates a fresh program id.
func NewID() ID { return ID{uuid: uuid.Must(uuid.NewV7())} }

// Status is a program's last known lifecycle state as reported by the
// host runtime.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusStopped
	StatusFailed
)

// Definition is the serialized form of a programmable subscription: a
// name, the source text of its script, and the stream(s) it reads from.
// The engine stores and transmits this opaquely; it never interprets
// Source itself.
type Definition struct {
	Name    string   `msgpack:"name"`
	Source  string   `msgpack:"source"`
	Streams []string `msgpack:"streams"`
}

// Encode serializes a Definition for handoff to the host runtime.
func Encode(def Definition) ([]byte, error) {
	b, err := msgpack.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("program: encode definition: %w", err)
	}
	return b, nil
}

// Decode parses a Definition previously produced by Encode.
func Decode(b []byte) (Definition, error) {
	var def Definition
	if err := msgpack.Unmarshal(b, &def); err != nil {
		return Definition{}, fmt.Errorf("program: decode definition: %w", err)
	}
	return def, nil
}

// Record is what the engine keeps locally about a registered program: its
// id, definition, and last known status, independent of whatever the host
// runtime is doing internally.
type Record struct {
	ID         ID
	Definition Definition
	Status     Status
}

// Host is the interface the out-of-scope program runtime would implement
// to actually execute a Definition. GethDB only needs to start, list,
// fetch, and stop programs by id; the scripting language itself (eventql,
// pyro) is a separate collaborator's concern.
type Host interface {
	Start(def Definition) (ID, error)
	List() ([]Record, error)
	Get(id ID) (Record, error)
	Stop(id ID) error
}
