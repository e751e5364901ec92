// Package block implements the LSM index's fixed-width entry format: 24
// bytes per entry (key, revision, position), sorted on (key, revision),
// with binary search over an encoded block.
package block

import (
	"encoding/binary"
	"sort"
)

// EntrySize is the fixed on-disk size of one block entry.
const EntrySize = 24

// Entry is one (key, revision) -> position mapping in the index.
type Entry struct {
	Key      uint64
	Revision uint64
	Position uint64
}

// Less orders entries by (key asc, revision asc).
func (e Entry) Less(other Entry) bool {
	if e.Key != other.Key {
		return e.Key < other.Key
	}
	return e.Revision < other.Revision
}

// Encode appends e's 24-byte representation to dst and returns the result.
func (e Entry) Encode(dst []byte) []byte {
	var buf [EntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.Key)
	binary.LittleEndian.PutUint64(buf[8:16], e.Revision)
	binary.LittleEndian.PutUint64(buf[16:24], e.Position)
	return append(dst, buf[:]...)
}

// DecodeEntry reads one 24-byte entry from buf.
func DecodeEntry(buf []byte) Entry {
	return Entry{
		Key:      binary.LittleEndian.Uint64(buf[0:8]),
		Revision: binary.LittleEndian.Uint64(buf[8:16]),
		Position: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// Block is a pure byte slice of concatenated, sorted entries.
type Block []byte

// Len reports how many entries the block holds.
func (b Block) Len() int { return len(b) / EntrySize }

// At returns the i-th entry.
func (b Block) At(i int) Entry {
	return DecodeEntry(b[i*EntrySize : (i+1)*EntrySize])
}

// Find performs binary search for (key, revision), tie-breaking on
// (key asc, revision asc) as entries are stored.
func (b Block) Find(key, revision uint64) (Entry, bool) {
	n := b.Len()
	i := sort.Search(n, func(i int) bool {
		e := b.At(i)
		if e.Key != key {
			return e.Key >= key
		}
		return e.Revision >= revision
	})
	if i < n {
		e := b.At(i)
		if e.Key == key && e.Revision == revision {
			return e, true
		}
	}
	return Entry{}, false
}

// LowerBound returns the index of the first entry >= (key, revision).
func (b Block) LowerBound(key, revision uint64) int {
	n := b.Len()
	return sort.Search(n, func(i int) bool {
		e := b.At(i)
		if e.Key != key {
			return e.Key >= key
		}
		return e.Revision >= revision
	})
}

// Builder accumulates entries into a block until it reaches targetSize,
// matching the SST's streaming-build use.
type Builder struct {
	buf        []byte
	targetSize int
	firstKey   uint64
	firstRev   uint64
	hasFirst   bool
}

// NewBuilder creates a Builder that emits a block once its encoded size
// reaches targetSize bytes.
func NewBuilder(targetSize int) *Builder {
	return &Builder{targetSize: targetSize}
}

// Add appends e to the block under construction and reports whether the
// block has reached its target size.
func (bld *Builder) Add(e Entry) (full bool) {
	if !bld.hasFirst {
		bld.firstKey, bld.firstRev = e.Key, e.Revision
		bld.hasFirst = true
	}
	bld.buf = e.Encode(bld.buf)
	return len(bld.buf) >= bld.targetSize
}

// Empty reports whether any entry has been added since the last Take.
func (bld *Builder) Empty() bool { return len(bld.buf) == 0 }

// FirstKey and FirstRevision describe the first entry added since the last
// Take; valid only when !Empty().
func (bld *Builder) FirstKey() uint64      { return bld.firstKey }
func (bld *Builder) FirstRevision() uint64 { return bld.firstRev }

// Take returns the accumulated block bytes and resets the builder for the
// next block.
func (bld *Builder) Take() Block {
	out := Block(bld.buf)
	bld.buf = nil
	bld.hasFirst = false
	return out
}
