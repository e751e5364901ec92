package wal

import (
	"context"
	"fmt"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/storage"
)

// Reader performs positional and sequential reads against a Container. Many
// readers may share one Container safely: chunks are append-only up to
// their end, so concurrent positional reads never race with the writer.
type Reader struct {
	container *Container
	storage   storage.Storage
}

// NewReader creates a Reader over container.
func NewReader(container *Container, s storage.Storage) *Reader {
	return &Reader{container: container, storage: s}
}

// ReadAt decodes the single log entry at the given global log position.
func (r *Reader) ReadAt(ctx context.Context, position uint64) (gethdb.LogEntry, error) {
	chunk, err := r.container.Find(position)
	if err != nil {
		return gethdb.LogEntry{}, fmt.Errorf("locate chunk for position %d: %w", position, err)
	}

	raw := chunk.RawPosition(position)

	lenBuf := make([]byte, lengthPrefixSize)
	if err := r.storage.ReadAt(ctx, chunkFileID(chunk), int64(raw), lenBuf); err != nil {
		return gethdb.LogEntry{}, fmt.Errorf("read entry length at %d: %w", position, err)
	}
	inner := leU32(lenBuf)

	full := make([]byte, lengthPrefixSize+int(inner)+lengthPrefixSize)
	if err := r.storage.ReadAt(ctx, chunkFileID(chunk), int64(raw), full); err != nil {
		return gethdb.LogEntry{}, fmt.Errorf("read entry body at %d: %w", position, err)
	}

	return DecodeFramed(full, position)
}

// Entries returns every log entry in [from, to), advancing across chunk
// boundaries as needed. When a chunk's remaining bytes cannot hold another
// length prefix, or the next length prefix reads as zero, it skips (without
// error) to the start of the next chunk — the writer never straddles a
// chunk boundary, so any trailing bytes are zero padding, not a truncated
// record.
func (r *Reader) Entries(ctx context.Context, from, to uint64) ([]gethdb.LogEntry, error) {
	var entries []gethdb.LogEntry
	pos := from

	for pos < to {
		chunk, err := r.container.Find(pos)
		if err != nil {
			return entries, fmt.Errorf("locate chunk for position %d: %w", pos, err)
		}

		if chunk.RemainingSpaceFrom(pos) < lengthPrefixSize {
			pos = chunk.EndPosition()
			continue
		}

		lenBuf := make([]byte, lengthPrefixSize)
		if err := r.storage.ReadAt(ctx, chunkFileID(chunk), int64(chunk.RawPosition(pos)), lenBuf); err != nil {
			return entries, fmt.Errorf("read entry length at %d: %w", pos, err)
		}
		inner := leU32(lenBuf)
		if inner == 0 {
			// Zero-padded tail of the chunk's data region: nothing more
			// to read here.
			pos = chunk.EndPosition()
			continue
		}

		size := FramedSize(int(inner) - 1)
		entry, err := r.ReadAt(ctx, pos)
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
		pos += size

		if pos >= to {
			break
		}
	}

	return entries, nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
