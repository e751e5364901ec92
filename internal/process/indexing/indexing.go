// Package indexing implements the indexer process: the sole writer of the
// LSM index. It catches up by scanning the WAL from its last persisted
// position to the writer's current tail whenever it is notified that new
// entries have been written, then publishes that it has caught up.
package indexing

import (
	"context"
	"fmt"
	"log/slog"

	"gastrolog/internal/callgroup"
	"gastrolog/internal/gethdb"
	"gastrolog/internal/lsm"
	"gastrolog/internal/lsm/block"
	"gastrolog/internal/logging"
	"gastrolog/internal/notify"
	"gastrolog/internal/wal"
)

// Publisher is the subset of the subscription bus the indexer needs to
// announce it has caught up to a given log position.
type Publisher interface {
	Publish(ctx context.Context, streamName string, record gethdb.Record) error
}

// Indexer drains the WAL from the manager's last indexed position up to
// whatever the writer has most recently committed, each time it is told
// new data exists.
type Indexer struct {
	manager   *lsm.Manager
	reader    *wal.Reader
	publisher Publisher
	logger    *slog.Logger

	scanGroup callgroup.Group[string]
}

// New creates an Indexer over an LSM manager and a WAL reader.
func New(manager *lsm.Manager, reader *wal.Reader, publisher Publisher, logger *slog.Logger) *Indexer {
	return &Indexer{
		manager:   manager,
		reader:    reader,
		publisher: publisher,
		logger:    logging.Default(logger).With("component", "process/indexing"),
	}
}

// CatchUpTo scans the WAL from the index's current position up to (and
// excluding) writerPosition, indexing every user-data entry it finds, then
// publishes $events-indexed once caught up. Concurrent calls for the same
// instance collapse into one in-flight scan via callgroup, since several
// $events-written notifications may arrive before a prior catch-up
// finishes.
func (ix *Indexer) CatchUpTo(ctx context.Context, writerPosition uint64) error {
	ch := ix.scanGroup.DoChan("catch-up", func() error {
		return ix.catchUp(context.WithoutCancel(ctx), writerPosition)
	})

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ix *Indexer) catchUp(ctx context.Context, writerPosition uint64) error {
	from := ix.manager.Position()
	if from >= writerPosition {
		return nil
	}

	entries, err := ix.reader.Entries(ctx, from, writerPosition)
	if err != nil {
		return fmt.Errorf("scan wal for catch-up: %w", err)
	}

	globalKey := gethdb.Hash(gethdb.GlobalsStream)
	nextGlobalRevision := ix.manager.GlobalPosition()

	var batch []block.Entry
	var lastPosition uint64
	for _, entry := range entries {
		if entry.Type != gethdb.LogEntryUserData {
			continue
		}
		revision, streamName, event, err := gethdb.DecodeUserData(entry.Payload)
		if err != nil {
			return fmt.Errorf("%w: decode entry at %d", err, entry.Position)
		}

		// A $stream-deleted marker's final revision is always indexed as
		// MAX, per the tombstone-finality invariant, regardless of the
		// running per-stream revision it was framed with.
		indexedRevision := revision
		if event.Class == gethdb.StreamDeletedClass {
			indexedRevision = gethdb.TombstoneRevision
		}

		batch = append(batch,
			block.Entry{Key: gethdb.Hash(streamName), Revision: indexedRevision, Position: entry.Position},
			block.Entry{Key: globalKey, Revision: nextGlobalRevision, Position: entry.Position},
		)
		nextGlobalRevision++
		lastPosition = entry.Position
	}

	if len(batch) == 0 {
		return ix.manager.PutValues(ctx, nil, writerPosition)
	}

	if err := ix.manager.PutValues(ctx, batch, writerPosition); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	if err := ix.manager.AdvanceGlobalPosition(ctx, nextGlobalRevision); err != nil {
		return fmt.Errorf("advance global index position: %w", err)
	}

	ix.logger.Debug("caught up index", "from", from, "to", writerPosition, "entries", len(batch), "last_position", lastPosition)

	if ix.publisher != nil {
		marker := gethdb.Record{
			Event:      gethdb.Event{Class: gethdb.EventsIndexedClass},
			StreamName: gethdb.SystemStream,
			Position:   writerPosition,
		}
		if err := ix.publisher.Publish(ctx, gethdb.SystemStream, marker); err != nil {
			return fmt.Errorf("publish events-indexed: %w", err)
		}
	}
	return nil
}

// WatchSignal drives CatchUpTo every time sig is notified, until ctx is
// cancelled, looking up the writer's current tail via position().
func (ix *Indexer) WatchSignal(ctx context.Context, sig *notify.Signal, position func() uint64) error {
	for {
		ch := sig.C()
		if err := ix.CatchUpTo(ctx, position()); err != nil {
			ix.logger.Error("catch-up scan failed", "err", err)
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
