// Package engine wires the storage engine's components — WAL, LSM index,
// writer, reader, indexer, subscription bus, and program registry — into
// the client-facing surface described by the external interface: append,
// read, delete, subscribe, and program management, each backed by a
// process running under the process manager.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gastrolog/internal/config"
	"gastrolog/internal/gethdb"
	"gastrolog/internal/lsm"
	"gastrolog/internal/logging"
	"gastrolog/internal/process"
	"gastrolog/internal/process/indexing"
	"gastrolog/internal/process/reading"
	"gastrolog/internal/process/subscription"
	"gastrolog/internal/process/writing"
	"gastrolog/internal/program"
	"gastrolog/internal/storage"
	"gastrolog/internal/wal"
)

// DefaultRequestTimeout bounds every request/response round trip through
// the process manager, per the concurrency model's default.
const DefaultRequestTimeout = 10 * time.Second

// Engine is GethDB's single-node storage engine: the concrete
// implementation behind the abstract client request surface.
type Engine struct {
	storage storage.Storage
	logger  *slog.Logger

	walContainer *wal.Container
	walWriterRaw *wal.Writer
	walReader    *wal.Reader

	index           *lsm.Manager
	compactionSched *lsm.CompactionScheduler
	writer          *writing.Writer
	reader          *reading.Reader
	indexer         *indexing.Indexer
	bus             *subscription.Bus

	procs      *process.Manager
	writerProc process.ID

	programsMu sync.Mutex
	programs   map[program.ID]program.Record
	host       program.Host
}

// Open boots every engine component against the given Storage, replaying
// the index up to the WAL's current tail before accepting requests.
func Open(ctx context.Context, cfg *config.Config, store storage.Storage, logger *slog.Logger, host program.Host) (*Engine, error) {
	logger = logging.Default(logger).With("component", "engine")

	container, err := wal.Open(ctx, wal.Config{Storage: store, ChunkSize: cfg.ChunkSize, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	walWriter, err := wal.OpenWriter(ctx, wal.WriterConfig{Container: container, Storage: store, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open wal writer: %w", err)
	}
	walReader := wal.NewReader(container, store)

	index, err := lsm.Open(ctx, lsm.Config{
		Storage:         store,
		Logger:          logger,
		MemtableMaxSize: int(cfg.MemTableMaxSize),
		LevelFanout:     cfg.SSTableMaxCount,
		Compress:        cfg.Compression,
	})
	if err != nil {
		return nil, fmt.Errorf("open lsm index: %w", err)
	}

	bus := subscription.New(logger)
	indexer := indexing.New(index, walReader, bus, logger)

	e := &Engine{
		storage:      store,
		logger:       logger,
		walContainer: container,
		walWriterRaw: walWriter,
		walReader:    walReader,
		index:        index,
		writer:       writing.New(walWriter, indexAdapter{index}, logger),
		reader:       reading.New(indexAdapter{index}, walReader, walWriter.Position, logger),
		indexer:      indexer,
		bus:          bus,
		programs:     make(map[program.ID]program.Record),
		host:         host,
	}

	// Replay: catch the index up to whatever the WAL already holds from
	// before a restart, independent of any subscription delivery.
	if err := indexer.CatchUpTo(ctx, walWriter.Position()); err != nil {
		return nil, fmt.Errorf("replay index on boot: %w", err)
	}

	if _, err := bus.Subscribe(ctx, gethdb.SystemStream, func(r gethdb.Record) error {
		if r.Class != gethdb.EventsWrittenClass {
			return nil
		}
		return indexer.CatchUpTo(context.Background(), r.Position)
	}); err != nil {
		return nil, fmt.Errorf("subscribe indexer to system stream: %w", err)
	}

	e.procs = process.NewManager(logger, func(tag process.Tag, id process.ID, err error) {
		logger.Error("process reported corruption, engine should be taken offline", "tag", tag, "id", id, "err", err)
	})

	writerProc, err := e.procs.Spawn(ctx, "writer", process.SingletonTopology(), e.runWriterProcess)
	if err != nil {
		return nil, fmt.Errorf("spawn writer process: %w", err)
	}
	e.writerProc = writerProc

	if _, err := e.procs.Spawn(ctx, "indexer", process.SingletonTopology(), e.runIndexerProcess); err != nil {
		return nil, fmt.Errorf("spawn indexer process: %w", err)
	}

	compactionSched, err := index.StartCompactionScheduler("", logger)
	if err != nil {
		return nil, fmt.Errorf("start compaction scheduler: %w", err)
	}
	e.compactionSched = compactionSched

	return e, nil
}

// runWriterProcess is the writer singleton's mailbox loop: every append
// and delete request is serialized through here, so the process manager's
// catalog always reflects exactly one live writer.
func (e *Engine) runWriterProcess(ctx context.Context, self process.ID, mailbox <-chan process.Message) error {
	for {
		select {
		case msg, ok := <-mailbox:
			if !ok {
				return nil
			}
			e.handleWriterMessage(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) handleWriterMessage(ctx context.Context, msg process.Message) {
	if msg.Ctx != nil {
		ctx = msg.Ctx
	}

	var (
		result writing.AppendResult
		err    error
	)
	switch req := msg.Body.(type) {
	case writing.AppendRequest:
		result, err = e.writer.Append(ctx, req)
	case writing.DeleteRequest:
		result, err = e.writer.Delete(ctx, req)
	default:
		err = fmt.Errorf("%w: unrecognized writer message %T", gethdb.ErrProtocol, msg.Body)
	}

	if err == nil {
		marker := gethdb.Record{
			Event:      gethdb.Event{Class: gethdb.EventsWrittenClass},
			StreamName: gethdb.SystemStream,
			Position:   result.NextPosition,
		}
		if pubErr := e.bus.Publish(ctx, gethdb.SystemStream, marker); pubErr != nil {
			e.logger.Warn("failed to publish events-written marker", "err", pubErr)
		}
	}

	if msg.Reply != nil {
		msg.Reply <- process.Reply{Body: result, Err: err}
	}
}

// runIndexerProcess exists to give the indexer a catalog presence and a
// clean shutdown path; actual catch-up work runs off the $system
// subscription registered in Open, not off this mailbox.
func (e *Engine) runIndexerProcess(ctx context.Context, self process.ID, mailbox <-chan process.Message) error {
	<-ctx.Done()
	return nil
}

// AppendToStream proposes a batch of events for one stream, subject to
// its optimistic-concurrency precondition.
func (e *Engine) AppendToStream(ctx context.Context, streamName string, expected gethdb.ExpectedRevision, events []gethdb.Event) (writing.AppendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	resp, err := e.procs.Ask(ctx, e.writerProc, writing.AppendRequest{StreamName: streamName, Expected: expected, Events: events})
	if err != nil {
		return writing.AppendResult{}, err
	}
	return resp.(writing.AppendResult), nil
}

// DeleteStream tombstones a stream.
func (e *Engine) DeleteStream(ctx context.Context, streamName string, expected gethdb.ExpectedRevision) (writing.AppendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	resp, err := e.procs.Ask(ctx, e.writerProc, writing.DeleteRequest{StreamName: streamName, Expected: expected})
	if err != nil {
		return writing.AppendResult{}, err
	}
	return resp.(writing.AppendResult), nil
}

// ReadStream reads up to count records from streamName starting at from,
// in the given direction, delivering each to sink.
func (e *Engine) ReadStream(ctx context.Context, streamName string, from gethdb.RevisionPoint, direction gethdb.Direction, count int, sink func(gethdb.Record) bool) error {
	return e.reader.Read(ctx, reading.ReadRequest{StreamName: streamName, From: from, Direction: direction, Count: count}, sink)
}

// SubscribeToStream registers sink to receive every record published to
// streamName (or gethdb.AllStream for every stream) from this point on.
// The engine publishes only the $events-written and $events-indexed
// markers on gethdb.SystemStream; appended user records are not published
// to the bus.
func (e *Engine) SubscribeToStream(ctx context.Context, streamName string, sink subscription.Sink) (subscription.Confirmed, error) {
	return e.bus.Subscribe(ctx, streamName, sink)
}

// UnsubscribeFromStream removes a previously confirmed subscription.
func (e *Engine) UnsubscribeFromStream(streamName string, id subscription.SubscriptionID) {
	e.bus.Unsubscribe(streamName, id)
}

// ListPrograms returns every registered program.
func (e *Engine) ListPrograms() []program.Record {
	e.programsMu.Lock()
	defer e.programsMu.Unlock()
	out := make([]program.Record, 0, len(e.programs))
	for _, r := range e.programs {
		out = append(out, r)
	}
	return out
}

// GetProgram looks up one registered program by id.
func (e *Engine) GetProgram(id program.ID) (program.Record, bool) {
	e.programsMu.Lock()
	defer e.programsMu.Unlock()
	r, ok := e.programs[id]
	return r, ok
}

// StartProgram hands def to the host runtime and tracks the resulting
// program locally.
func (e *Engine) StartProgram(def program.Definition) (program.ID, error) {
	if e.host == nil {
		return program.ID{}, fmt.Errorf("gethdb: no program host configured")
	}
	id, err := e.host.Start(def)
	if err != nil {
		return program.ID{}, err
	}
	e.programsMu.Lock()
	e.programs[id] = program.Record{ID: id, Definition: def, Status: program.StatusRunning}
	e.programsMu.Unlock()
	return id, nil
}

// StopProgram stops a running program by id.
func (e *Engine) StopProgram(id program.ID) error {
	if e.host == nil {
		return fmt.Errorf("gethdb: no program host configured")
	}
	if err := e.host.Stop(id); err != nil {
		return err
	}
	e.programsMu.Lock()
	if r, ok := e.programs[id]; ok {
		r.Status = program.StatusStopped
		e.programs[id] = r
	}
	e.programsMu.Unlock()
	return nil
}

// Close shuts down every process this engine spawned and stops its
// background compaction scheduler.
func (e *Engine) Close(ctx context.Context) error {
	if e.compactionSched != nil {
		if err := e.compactionSched.Stop(); err != nil {
			e.logger.Warn("compaction scheduler shutdown error", "err", err)
		}
	}
	return e.procs.Shutdown(ctx)
}

// indexAdapter adapts *lsm.Manager to the narrower capability sets the
// writer and reader processes declare for themselves (writing.IndexLookup
// and reading.Index).
type indexAdapter struct{ manager *lsm.Manager }

func (a indexAdapter) HighestRevision(ctx context.Context, key uint64) (uint64, bool, error) {
	e, ok, err := a.manager.HighestRevision(ctx, key)
	return e.Revision, ok, err
}

func (a indexAdapter) Scan(ctx context.Context, key uint64, start uint64, forward bool, count int) ([]reading.IndexEntry, error) {
	entries, err := a.manager.Scan(ctx, key, start, forward, count)
	if err != nil {
		return nil, err
	}
	out := make([]reading.IndexEntry, len(entries))
	for i, e := range entries {
		out[i] = reading.IndexEntry{Key: e.Key, Revision: e.Revision, Position: e.Position}
	}
	return out, nil
}
