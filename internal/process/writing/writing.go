// Package writing implements the writer process: the sole component
// permitted to append to the write-ahead log. It checks each append's
// optimistic-concurrency precondition against a local current-revision
// cache (consulting the index only on a cache miss), frames the proposed
// events, and commits them through the WAL writer in one batch.
package writing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/logging"
	"gastrolog/internal/wal"
)

// IndexLookup is the subset of the LSM manager the writer needs to seed
// its current-revision cache for a stream it has not yet touched. It is
// satisfied by *lsm.Manager; the interface lives here instead of
// importing lsm directly so the writer depends only on the (key, found,
// revision) shape it actually uses.
type IndexLookup interface {
	HighestRevision(ctx context.Context, key uint64) (revision uint64, found bool, err error)
}

// AppendRequest proposes a batch of events for one stream.
type AppendRequest struct {
	StreamName string
	Expected   gethdb.ExpectedRevision
	Events     []gethdb.Event
}

// AppendResult reports where a successful append landed.
type AppendResult struct {
	StartPosition  uint64
	NextPosition   uint64
	NextExpected   uint64
	CommittedCount int
}

// DeleteRequest tombstones a stream.
type DeleteRequest struct {
	StreamName string
	Expected   gethdb.ExpectedRevision
}

// Writer serializes every append and delete against a single in-memory
// current-revision cache. Because it is the only writer of the WAL (the
// process manager enforces this via SingletonTopology), the cache is
// always authoritative for revisions the Writer itself has committed,
// even while the asynchronous indexer is still catching up.
type Writer struct {
	mu     sync.Mutex
	wal    *wal.Writer
	index  IndexLookup
	cache  map[uint64]gethdb.CurrentRevision
	logger *slog.Logger
}

// New creates a Writer over an opened WAL writer, falling back to index
// for streams not yet seen this process lifetime.
func New(walWriter *wal.Writer, index IndexLookup, logger *slog.Logger) *Writer {
	return &Writer{
		wal:    walWriter,
		index:  index,
		cache:  make(map[uint64]gethdb.CurrentRevision),
		logger: logging.Default(logger).With("component", "process/writing"),
	}
}

func (w *Writer) currentRevisionLocked(ctx context.Context, key uint64) (gethdb.CurrentRevision, error) {
	if cur, ok := w.cache[key]; ok {
		return cur, nil
	}

	rev, found, err := w.index.HighestRevision(ctx, key)
	if err != nil {
		return gethdb.CurrentRevision{}, fmt.Errorf("seed current revision: %w", err)
	}
	cur := gethdb.CurrentAbsent()
	if found {
		cur = gethdb.CurrentAt(rev)
	}
	w.cache[key] = cur
	return cur, nil
}

// checkOCC applies the expected-vs-current match table. A tombstoned
// stream rejects every further write, regardless of what was expected,
// per the tombstone-finality invariant.
func checkOCC(expected gethdb.ExpectedRevision, current gethdb.CurrentRevision) error {
	if current.IsDeleted() {
		return gethdb.ErrStreamDeleted
	}

	switch expected.Kind {
	case gethdb.ExpectedAny:
		return nil

	case gethdb.ExpectedNoStream:
		if current.Kind == gethdb.CurrentNoStream {
			return nil
		}
		return &gethdb.WrongExpectedRevisionError{Expected: expected, Current: current}

	case gethdb.ExpectedStreamExists:
		if current.Kind == gethdb.CurrentRevisionValue {
			return nil
		}
		return &gethdb.WrongExpectedRevisionError{Expected: expected, Current: current}

	case gethdb.ExpectedRevisionValue:
		if current.Kind == gethdb.CurrentRevisionValue && current.Revision == expected.Revision {
			return nil
		}
		return &gethdb.WrongExpectedRevisionError{Expected: expected, Current: current}

	default:
		return fmt.Errorf("%w: unrecognized expected-revision kind %d", gethdb.ErrProtocol, expected.Kind)
	}
}

// entryProvider adapts a batch of events, already OCC-checked, into the
// wal.EntriesProvider shape the log writer drains.
type entryProvider struct {
	streamName string
	key        uint64
	nextRev    uint64
	events     []gethdb.Event
	idx        int

	committed []gethdb.Record
}

func (p *entryProvider) Next() (wal.Entry, bool) {
	if p.idx >= len(p.events) {
		return wal.Entry{}, false
	}
	ev := p.events[p.idx]
	rev := p.nextRev + uint64(p.idx)
	payload := gethdb.EncodeUserData(rev, p.streamName, ev)
	p.idx++
	return wal.Entry{Type: gethdb.LogEntryUserData, Payload: payload}, true
}

func (p *entryProvider) Commit(entry wal.Entry, position uint64) error {
	rev, _, ev, err := gethdb.DecodeUserData(entry.Payload)
	if err != nil {
		return err
	}
	p.committed = append(p.committed, gethdb.Record{
		Event:      ev,
		StreamName: p.streamName,
		Revision:   rev,
		Position:   position,
	})
	return nil
}

// Append validates req's OCC precondition, commits its events to the WAL,
// and returns where they landed.
func (w *Writer) Append(ctx context.Context, req AppendRequest) (AppendResult, error) {
	if len(req.Events) == 0 {
		return AppendResult{}, fmt.Errorf("%w: append requires at least one event", gethdb.ErrProtocol)
	}

	key := gethdb.Hash(req.StreamName)

	w.mu.Lock()
	defer w.mu.Unlock()

	current, err := w.currentRevisionLocked(ctx, key)
	if err != nil {
		return AppendResult{}, err
	}
	if err := checkOCC(req.Expected, current); err != nil {
		return AppendResult{}, err
	}

	nextRev := current.NextRevision()
	isTombstone := len(req.Events) == 1 && req.Events[0].Class == gethdb.StreamDeletedClass
	provider := &entryProvider{streamName: req.StreamName, key: key, nextRev: nextRev, events: req.Events}

	receipt, err := w.wal.Append(ctx, provider)
	if err != nil {
		return AppendResult{}, fmt.Errorf("append to wal: %w", err)
	}

	finalRevision := nextRev + uint64(len(req.Events)) - 1
	if isTombstone {
		finalRevision = gethdb.TombstoneRevision
		w.cache[key] = gethdb.CurrentAt(gethdb.TombstoneRevision)
	} else {
		w.cache[key] = gethdb.CurrentAt(finalRevision)
	}

	return AppendResult{
		StartPosition:  receipt.StartPosition,
		NextPosition:   receipt.NextPosition,
		NextExpected:   finalRevision,
		CommittedCount: len(provider.committed),
	}, nil
}

// Delete tombstones a stream by appending a single $stream-deleted marker
// event, subject to the same OCC check as a normal append.
func (w *Writer) Delete(ctx context.Context, req DeleteRequest) (AppendResult, error) {
	return w.Append(ctx, AppendRequest{
		StreamName: req.StreamName,
		Expected:   req.Expected,
		Events: []gethdb.Event{{
			Class: gethdb.StreamDeletedClass,
		}},
	})
}
