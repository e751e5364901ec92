// Package reading implements the reader process: it resolves a stream
// read through the index, re-validates each candidate record's stream
// name against the WAL (the index key is a truncated hash and may
// collide), and streams results back to the caller in bounded batches.
package reading

import (
	"context"
	"fmt"
	"log/slog"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/logging"
	"gastrolog/internal/wal"
)

// MaxBatchSize bounds how many index entries an indexed stream read fetches
// and delivers per batch, so a long stream read never holds an unbounded
// slice of them in memory. Sequential $all/$system reads deliver at most
// MaxBatchSize records per call.
const MaxBatchSize = 500

// Index is the subset of the LSM manager a reader needs: positional scans
// by stream key and revision, plus the tombstone check HighestRevision
// makes possible.
type Index interface {
	Scan(ctx context.Context, key uint64, start uint64, forward bool, count int) ([]IndexEntry, error)
	HighestRevision(ctx context.Context, key uint64) (revision uint64, found bool, err error)
}

// IndexEntry mirrors lsm/block.Entry's shape without importing the lsm
// package, keeping the reader's dependency surface to just (key,
// revision, position).
type IndexEntry struct {
	Key      uint64
	Revision uint64
	Position uint64
}

// ReadRequest describes one stream read.
type ReadRequest struct {
	StreamName string
	From       gethdb.RevisionPoint
	Direction  gethdb.Direction
	Count      int
}

// Reader answers ReadRequests against the index and the WAL.
type Reader struct {
	index        Index
	wal          *wal.Reader
	tailPosition func() uint64
	logger       *slog.Logger
}

// New creates a Reader. tailPosition reports the WAL's current durable end
// position, used to bound the sequential scans $all/$system reads perform.
func New(index Index, walReader *wal.Reader, tailPosition func() uint64, logger *slog.Logger) *Reader {
	return &Reader{
		index:        index,
		wal:          walReader,
		tailPosition: tailPosition,
		logger:       logging.Default(logger).With("component", "process/reading"),
	}
}

// Read resolves req against the index, reads each candidate position from
// the WAL, and filters out any entries whose stream name doesn't actually
// match (a hash collision), returning up to req.Count records in order.
// It stops (without error) if sink returns false, so a subscriber that
// closes partway through a large backfill is handled cleanly.
//
// $all and $system are virtual streams: per the reader's defined handling,
// they bypass the index and sequentially scan the WAL directly instead.
func (r *Reader) Read(ctx context.Context, req ReadRequest, sink func(gethdb.Record) bool) error {
	if req.StreamName == gethdb.AllStream || req.StreamName == gethdb.SystemStream {
		return r.readSequential(ctx, req, sink)
	}

	count := req.Count
	if count <= 0 {
		count = MaxBatchSize
	}
	forward := req.Direction == gethdb.Forward

	key := gethdb.Hash(req.StreamName)

	// A tombstoned stream rejects every further read with StreamDeleted,
	// regardless of what valid history precedes the tombstone.
	highest, found, err := r.index.HighestRevision(ctx, key)
	if err != nil {
		return fmt.Errorf("check tombstone state for %q: %w", req.StreamName, err)
	}
	if found && highest == gethdb.TombstoneRevision {
		return gethdb.ErrStreamDeleted
	}

	start := startRevision(req.From, forward)

	for remaining := count; remaining > 0; {
		batchSize := remaining
		if batchSize > MaxBatchSize {
			batchSize = MaxBatchSize
		}

		entries, err := r.index.Scan(ctx, key, start, forward, batchSize)
		if err != nil {
			return fmt.Errorf("scan index for %q: %w", req.StreamName, err)
		}
		if len(entries) == 0 {
			return nil
		}

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}

			entry, err := r.wal.ReadAt(ctx, e.Position)
			if err != nil {
				return fmt.Errorf("read log position %d: %w", e.Position, err)
			}

			revision, streamName, event, err := gethdb.DecodeUserData(entry.Payload)
			if err != nil {
				return err
			}
			if streamName != req.StreamName {
				// Hash collision: this position belongs to a different
				// stream that happens to share the index key. Skip it.
				continue
			}

			record := gethdb.Record{Event: event, StreamName: streamName, Revision: revision, Position: e.Position}
			if !sink(record) {
				return nil
			}
		}

		if forward {
			start = entries[len(entries)-1].Revision + 1
		} else {
			if entries[len(entries)-1].Revision == 0 {
				return nil
			}
			start = entries[len(entries)-1].Revision - 1
		}
		remaining -= len(entries)
	}
	return nil
}

// readSequential serves $all/$system reads by scanning the WAL directly in
// log-position order, decoding every user-data entry it finds regardless
// of which stream it belongs to. req.From's revision is interpreted as a
// raw WAL position for this path, not a per-stream revision.
func (r *Reader) readSequential(ctx context.Context, req ReadRequest, sink func(gethdb.Record) bool) error {
	count := req.Count
	if count <= 0 || count > MaxBatchSize {
		count = MaxBatchSize
	}
	forward := req.Direction == gethdb.Forward
	tail := r.tailPosition()

	lo, hi := uint64(0), tail
	switch req.From.Kind {
	case gethdb.RevisionAt:
		if forward {
			lo = req.From.Revision
		} else {
			hi = req.From.Revision + 1
		}
	case gethdb.RevisionEnd:
		if forward {
			lo = tail
		}
	case gethdb.RevisionStart:
		if !forward {
			hi = 0
		}
	}
	if hi > tail {
		hi = tail
	}
	if lo > hi {
		lo = hi
	}

	entries, err := r.wal.Entries(ctx, lo, hi)
	if err != nil {
		return fmt.Errorf("scan wal for %q: %w", req.StreamName, err)
	}

	if forward {
		emitted := 0
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, ok, err := decodeRecord(entry)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if !sink(record) {
				return nil
			}
			emitted++
			if emitted >= count {
				return nil
			}
		}
		return nil
	}

	if len(entries) > count {
		entries = entries[len(entries)-count:]
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, ok, err := decodeRecord(entries[i])
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !sink(record) {
			return nil
		}
	}
	return nil
}

// decodeRecord decodes entry into a Record if it is a user-data entry.
// ok is false (with no error) for reserved entry types sequential scans
// should silently skip.
func decodeRecord(entry gethdb.LogEntry) (gethdb.Record, bool, error) {
	if entry.Type != gethdb.LogEntryUserData {
		return gethdb.Record{}, false, nil
	}
	revision, streamName, event, err := gethdb.DecodeUserData(entry.Payload)
	if err != nil {
		return gethdb.Record{}, false, err
	}
	return gethdb.Record{Event: event, StreamName: streamName, Revision: revision, Position: entry.Position}, true, nil
}

func startRevision(point gethdb.RevisionPoint, forward bool) uint64 {
	switch point.Kind {
	case gethdb.RevisionAt:
		return point.Revision
	case gethdb.RevisionStart:
		return 0
	case gethdb.RevisionEnd:
		return gethdb.TombstoneRevision - 1
	default:
		if forward {
			return 0
		}
		return gethdb.TombstoneRevision - 1
	}
}
