// Package storage defines the byte-addressable file capability the rest of
// the engine is built on: chunks, checkpoints, the LSM manifest, and SSTs
// are all just named, offset-addressable byte ranges. Two backends
// implement it: an in-memory one for tests (internal/storage/memory) and a
// filesystem-backed one for production (internal/storage/file).
package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CheckpointKind tags which of the three checkpoint files a Checkpoint
// FileID refers to.
type CheckpointKind int

const (
	CheckpointWriter CheckpointKind = iota
	CheckpointIndex
	CheckpointIndexGlobal
)

func (k CheckpointKind) fileName() string {
	switch k {
	case CheckpointWriter:
		return "writer.chk"
	case CheckpointIndex:
		return "index.chk"
	case CheckpointIndexGlobal:
		return "index_global.chk"
	default:
		return fmt.Sprintf("checkpoint-%d.chk", int(k))
	}
}

// Category groups FileIDs for Storage.List.
type Category int

const (
	CategoryChunk Category = iota
	CategorySST
)

// idKind tags which variant a FileID holds. FileID behaves as a sum type:
// exactly one constructor (SSTID, IndexMapID, ChunkID, CheckpointID) should
// be used to build one, and Name derives the on-disk name for every
// variant in one place.
type idKind int

const (
	kindSST idKind = iota
	kindIndexMap
	kindChunk
	kindCheckpoint
)

// FileID identifies a logical file within a Storage backend. It is one of:
// SST(uuid), IndexMap, Chunk{num,version}, Checkpoint{Writer|Index|IndexGlobal}.
type FileID struct {
	kind       idKind
	sst        uuid.UUID
	chunkNum   uint32
	chunkVer   uint32
	checkpoint CheckpointKind
}

// SSTID identifies an SST file by its UUID.
func SSTID(id uuid.UUID) FileID { return FileID{kind: kindSST, sst: id} }

// IndexMapID identifies the LSM manifest file.
func IndexMapID() FileID { return FileID{kind: kindIndexMap} }

// ChunkFileID identifies a chunk file by sequence number and version.
func ChunkFileID(num, version uint32) FileID {
	return FileID{kind: kindChunk, chunkNum: num, chunkVer: version}
}

// CheckpointID identifies one of the three checkpoint files.
func CheckpointID(kind CheckpointKind) FileID {
	return FileID{kind: kindCheckpoint, checkpoint: kind}
}

// Name returns the on-disk file name for id, per the persisted layout in
// db/: chunk-NNNNNN.VVVVVV, writer.chk / index.chk / index_global.chk,
// indexmap, <uuid>.
func (id FileID) Name() string {
	switch id.kind {
	case kindSST:
		return id.sst.String()
	case kindIndexMap:
		return "indexmap"
	case kindChunk:
		return fmt.Sprintf("chunk-%06d.%06d", id.chunkNum, id.chunkVer)
	case kindCheckpoint:
		return id.checkpoint.fileName()
	default:
		return ""
	}
}

// Category reports which Storage.List bucket id belongs to.
func (id FileID) Category() Category {
	if id.kind == kindChunk {
		return CategoryChunk
	}
	return CategorySST
}

// ChunkNum is valid only when id was built with ChunkFileID.
func (id FileID) ChunkNum() uint32 { return id.chunkNum }

// ChunkVersion is valid only when id was built with ChunkFileID.
func (id FileID) ChunkVersion() uint32 { return id.chunkVer }

// Storage is a small capability set over identified, offset-addressable
// byte files. Implementations must make writes to a file durable (flushed)
// before the caller advances any checkpoint that depends on them.
type Storage interface {
	// WriteAt writes b at the given offset within id, extending the file
	// if necessary.
	WriteAt(ctx context.Context, id FileID, offset int64, b []byte) error

	// Append writes b to the end of id's current content and returns the
	// offset at which it was written.
	Append(ctx context.Context, id FileID, b []byte) (offset int64, err error)

	// ReadAt reads exactly len(b) bytes from id at offset into b.
	ReadAt(ctx context.Context, id FileID, offset int64, b []byte) error

	// ReadAll reads the full content of id.
	ReadAll(ctx context.Context, id FileID) ([]byte, error)

	// Len returns the current size of id, or 0 if it does not exist.
	Len(ctx context.Context, id FileID) (int64, error)

	// Exists reports whether id has been created.
	Exists(ctx context.Context, id FileID) (bool, error)

	// Remove deletes id. Removing a non-existent id is not an error.
	Remove(ctx context.Context, id FileID) error

	// List returns every FileID currently stored under category.
	List(ctx context.Context, category Category) ([]FileID, error)

	// Sync flushes any buffered writes to durable storage.
	Sync(ctx context.Context) error
}
