package wal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/logging"
	"gastrolog/internal/storage"
)

// Entry is one log entry an EntriesProvider hands to the Writer.
type Entry struct {
	Type    gethdb.LogEntryType
	Payload []byte
}

// EntriesProvider supplies the entries for one Append call. The writer
// pulls entries one at a time so the provider can react to the position
// each entry actually lands at — this is how the writer process stages
// committed records as it goes, per-entry, without the log writer knowing
// anything about streams or revisions.
type EntriesProvider interface {
	// Next returns the next entry to write, or ok=false when exhausted.
	Next() (entry Entry, ok bool)

	// Commit is invoked immediately after an entry has been written at
	// position, in log order; the batch is synced and the writer checkpoint
	// advanced only after the last entry. Errors here abort the Append.
	Commit(entry Entry, position uint64) error
}

// Writer appends entries to the tail chunk of a Container, sealing and
// rotating chunks as needed, and advances the writer checkpoint only after
// entries are flushed. The writer.chk update is the commit point: readers
// and subscribers must never observe positions beyond it.
type Writer struct {
	mu        sync.Mutex
	container *Container
	storage   storage.Storage
	position  uint64
	logger    *slog.Logger

	rotation RotationPolicy
	// chunkRecords and chunkCreatedAt describe the ongoing chunk for
	// rotation's benefit; both reset whenever a new chunk is sealed in.
	chunkRecords   uint64
	chunkCreatedAt time.Time
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Container *Container
	Storage   storage.Storage
	Logger    *slog.Logger

	// Rotation, if set, can force a chunk seal earlier than the chunk's
	// intrinsic size boundary (which always applies regardless). Optional.
	Rotation RotationPolicy
}

// OpenWriter boots a Writer, reading the writer checkpoint to determine
// where the log currently ends.
func OpenWriter(ctx context.Context, cfg WriterConfig) (*Writer, error) {
	pos, err := ReadCheckpoint(ctx, cfg.Storage, storage.CheckpointWriter)
	if err != nil {
		return nil, fmt.Errorf("read writer checkpoint: %w", err)
	}
	return &Writer{
		container:      cfg.Container,
		storage:        cfg.Storage,
		position:       pos,
		logger:         logging.Default(cfg.Logger).With("component", "wal/writer"),
		rotation:       cfg.Rotation,
		chunkCreatedAt: time.Now(),
	}, nil
}

// Position returns the current durable end of the log.
func (w *Writer) Position() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// Receipt reports the log-position range a batch of entries occupied.
type Receipt struct {
	StartPosition uint64
	NextPosition  uint64
}

// Append drains provider, writing each entry into the WAL (sealing and
// rotating chunks as needed), invoking provider.Commit per entry, then
// flushing and advancing the writer checkpoint once for the whole batch.
func (w *Writer) Append(ctx context.Context, provider EntriesProvider) (Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := w.position
	chunk := w.container.Ongoing()
	writtenInChunk := chunk.LocalPhysicalPosition(w.position)

	for {
		entry, ok := provider.Next()
		if !ok {
			break
		}

		framed := EncodeFramed(entry.Type, entry.Payload)
		size := uint64(len(framed))

		forceRotate := w.rotation != nil && w.rotation.ShouldRotate(
			ActiveChunkState{Records: w.chunkRecords, CreatedAt: w.chunkCreatedAt}, entry)

		if w.position+size > chunk.EndPosition() || forceRotate {
			sealed, err := w.container.NewChunk(ctx, writtenInChunk)
			if err != nil {
				return Receipt{}, fmt.Errorf("seal and rotate chunk: %w", err)
			}
			// The gap between the old write cursor and the chunk's end is
			// permitted; readers skip it via chunk-boundary arithmetic.
			w.position = chunk.EndPosition()
			chunk = sealed
			writtenInChunk = 0
			w.chunkRecords = 0
			w.chunkCreatedAt = time.Now()
		}

		id := chunkFileID(chunk)
		if err := w.storage.WriteAt(ctx, id, int64(chunk.RawPosition(w.position)), framed); err != nil {
			return Receipt{}, fmt.Errorf("write entry at position %d: %w", w.position, err)
		}

		entryPosition := w.position
		w.position += size
		writtenInChunk += size
		w.chunkRecords++

		if err := provider.Commit(entry, entryPosition); err != nil {
			return Receipt{}, fmt.Errorf("commit entry at position %d: %w", entryPosition, err)
		}
	}

	if err := w.storage.Sync(ctx); err != nil {
		return Receipt{}, fmt.Errorf("sync wal: %w", err)
	}
	if err := WriteCheckpoint(ctx, w.storage, storage.CheckpointWriter, w.position); err != nil {
		return Receipt{}, fmt.Errorf("advance writer checkpoint: %w", err)
	}

	return Receipt{StartPosition: start, NextPosition: w.position}, nil
}

func chunkFileID(c Chunk) storage.FileID {
	return storage.ChunkFileID(c.Info.SeqNum, c.Info.Version)
}
