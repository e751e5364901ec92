// Package lsm implements GethDB's secondary index: an LSM tree mapping
// (stream-hash, revision) to a log position. The manager coordinates one
// mutable memtable, a manifest of flushed SSTs organized into levels, and
// a tiered compaction policy that keeps the number of SSTs per level
// bounded.
package lsm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gastrolog/internal/lsm/block"
	"gastrolog/internal/logging"
	"gastrolog/internal/storage"
	"gastrolog/internal/wal"
)

// Config configures a Manager.
type Config struct {
	Storage storage.Storage
	Logger  *slog.Logger

	// MemtableMaxSize is the approximate byte size at which the memtable
	// is flushed to a new level-0 SST.
	MemtableMaxSize int

	// LevelFanout is how many SSTs a level may hold before they are
	// compacted into a single SST one level down. This is a simplified,
	// size-tiered policy: spec.md leaves the exact compaction strategy
	// unspecified beyond "merge when a level exceeds its bound."
	LevelFanout int

	// BlockSize is the target SST block size; defaults to 4 KiB.
	BlockSize int

	// Compress zstd-compresses every SST this manager builds.
	Compress bool
}

// Manager owns the mutable memtable and the on-disk SST levels, and
// applies the scan/get/put operations the storage coordinator needs.
type Manager struct {
	mu sync.RWMutex

	storage storage.Storage
	logger  *slog.Logger

	memtable        *Memtable
	memtableMaxSize int
	levelFanout     int
	blockSize       int
	compress        bool

	manifest *Manifest
	// readers[level][order] mirrors manifest.Levels; order ascending
	// means ascending age within a level is the opposite of freshness,
	// so query paths walk each level from the last index backward.
	readers [][]*SSTReader

	// globalPosition is the count of records indexed into the virtual
	// $globals stream so far; it doubles as the next global revision to
	// assign. Persisted separately from the manifest, to index_global.chk.
	globalPosition uint64
}

// Open loads the manifest and boots a Manager.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	manifest, err := LoadManifest(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	globalPosition, err := wal.ReadCheckpoint(ctx, cfg.Storage, storage.CheckpointIndexGlobal)
	if err != nil {
		return nil, fmt.Errorf("load global index checkpoint: %w", err)
	}

	memMax := cfg.MemtableMaxSize
	if memMax <= 0 {
		memMax = 4 << 20
	}
	fanout := cfg.LevelFanout
	if fanout <= 0 {
		fanout = 4
	}
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	m := &Manager{
		storage:         cfg.Storage,
		logger:          logging.Default(cfg.Logger).With("component", "lsm"),
		memtable:        NewMemtable(),
		memtableMaxSize: memMax,
		levelFanout:     fanout,
		blockSize:       blockSize,
		compress:        cfg.Compress,
		manifest:        manifest,
		globalPosition:  globalPosition,
	}

	m.readers = make([][]*SSTReader, len(manifest.Levels))
	for level, ids := range manifest.Levels {
		for _, id := range ids {
			m.readers[level] = append(m.readers[level], OpenSST(id, cfg.Storage))
		}
	}

	return m, nil
}

// Position is the logical log position the index has caught up to.
func (m *Manager) Position() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manifest.Position
}

// GlobalPosition returns the number of records indexed into the virtual
// $globals stream so far; callers use this as the next global revision to
// assign when indexing a new batch.
func (m *Manager) GlobalPosition() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalPosition
}

// AdvanceGlobalPosition durably records newPosition as the count of
// records indexed into $globals so far, to index_global.chk.
func (m *Manager) AdvanceGlobalPosition(ctx context.Context, newPosition uint64) error {
	m.mu.Lock()
	m.globalPosition = newPosition
	m.mu.Unlock()
	return wal.WriteCheckpoint(ctx, m.storage, storage.CheckpointIndexGlobal, newPosition)
}

// PutSingle indexes one (key, revision) -> position mapping and advances
// the logical position, flushing the memtable if it has grown past its
// threshold.
func (m *Manager) PutSingle(ctx context.Context, e block.Entry, position uint64) error {
	return m.PutValues(ctx, []block.Entry{e}, position)
}

// PutValues indexes a batch of entries as one logical step.
func (m *Manager) PutValues(ctx context.Context, entries []block.Entry, position uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memtable.PutMany(entries)
	m.manifest.Position = position

	if m.memtable.ApproxSize() >= m.memtableMaxSize {
		if err := m.flushLocked(ctx); err != nil {
			return err
		}
	}
	return m.manifest.Save(ctx, m.storage)
}

// Get looks up the position for (key, revision), checking the memtable
// then each SST level newest to oldest.
func (m *Manager) Get(ctx context.Context, key, revision uint64) (block.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.memtable.Get(key, revision); ok {
		return e, true, nil
	}

	for level := 0; level < len(m.readers); level++ {
		readers := m.readers[level]
		for i := len(readers) - 1; i >= 0; i-- {
			e, ok, err := readers[i].Find(ctx, key, revision)
			if err != nil {
				return block.Entry{}, false, err
			}
			if ok {
				return e, true, nil
			}
		}
	}
	return block.Entry{}, false, nil
}

// HighestRevision returns the entry with the greatest revision indexed for
// key. Since revisions for one stream are written in strictly increasing
// order, the first source that holds key at all (checked newest-first)
// holds its current highest revision.
func (m *Manager) HighestRevision(ctx context.Context, key uint64) (block.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.memtable.HighestRevision(key); ok {
		return e, true, nil
	}

	for level := 0; level < len(m.readers); level++ {
		readers := m.readers[level]
		for i := len(readers) - 1; i >= 0; i-- {
			e, ok, err := readers[i].HighestForKey(ctx, key)
			if err != nil {
				return block.Entry{}, false, err
			}
			if ok {
				return e, true, nil
			}
		}
	}
	return block.Entry{}, false, nil
}

// Scan returns up to count entries for key starting at start, scanning
// forward or backward by revision, merging the memtable and every SST
// level in freshness order so later writes shadow earlier ones.
func (m *Manager) Scan(ctx context.Context, key uint64, start uint64, forward bool, count int) ([]block.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sources := [][]block.Entry{filterKey(m.memtable.All(), key)}
	for level := 0; level < len(m.readers); level++ {
		readers := m.readers[level]
		for i := len(readers) - 1; i >= 0; i-- {
			entries, err := readers[i].AllEntries(ctx)
			if err != nil {
				return nil, err
			}
			sources = append(sources, filterKey(entries, key))
		}
	}

	merged := NewMergeIterator(sources).Collect()
	return scanMerged(merged, start, forward, count), nil
}

func filterKey(entries []block.Entry, key uint64) []block.Entry {
	var out []block.Entry
	for _, e := range entries {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

func scanMerged(merged []block.Entry, start uint64, forward bool, count int) []block.Entry {
	var out []block.Entry
	if forward {
		for _, e := range merged {
			if e.Revision >= start {
				out = append(out, e)
				if len(out) == count {
					break
				}
			}
		}
		return out
	}

	for i := len(merged) - 1; i >= 0; i-- {
		if merged[i].Revision <= start {
			out = append(out, merged[i])
			if len(out) == count {
				break
			}
		}
	}
	return out
}

// flushLocked builds a new level-0 SST from the current memtable, resets
// it, and triggers compaction if level 0 now holds levelFanout SSTs.
func (m *Manager) flushLocked(ctx context.Context) error {
	entries := m.memtable.All()
	if len(entries) == 0 {
		return nil
	}

	id, err := BuildSST(ctx, m.storage, entries, m.blockSize, m.compress)
	if err != nil {
		return fmt.Errorf("flush memtable: %w", err)
	}

	if len(m.manifest.Levels) == 0 {
		m.manifest.Levels = append(m.manifest.Levels, nil)
		m.readers = append(m.readers, nil)
	}
	m.manifest.Levels[0] = append(m.manifest.Levels[0], id)
	m.readers[0] = append(m.readers[0], OpenSST(id, m.storage))
	m.memtable = NewMemtable()

	m.logger.Debug("flushed memtable to sst", "sst", id, "entries", len(entries))

	return m.compactLocked(ctx)
}

// compactLocked merges every SST in a level that holds levelFanout or more
// SSTs into one new SST at the next level down, repeating for as many
// levels as now reach that bound. This is size-tiered compaction:
// each level's output count is capped at 1 per compaction pass, so a
// level only ever grows by flush or shrinks by merge.
func (m *Manager) compactLocked(ctx context.Context) error {
	for level := 0; level < len(m.manifest.Levels); level++ {
		if len(m.manifest.Levels[level]) < m.levelFanout {
			continue
		}

		var sources [][]block.Entry
		for _, r := range m.readers[level] {
			entries, err := r.AllEntries(ctx)
			if err != nil {
				return fmt.Errorf("read level %d for compaction: %w", level, err)
			}
			sources = append(sources, entries)
		}
		// Oldest entries are at the lowest order index within the level;
		// present them freshest-first so the merge iterator's shadowing
		// rule picks the newest value for any duplicate (key, revision).
		reversed := make([][]block.Entry, len(sources))
		for i, s := range sources {
			reversed[len(sources)-1-i] = s
		}
		merged := NewMergeIterator(reversed).Collect()
		sortEntries(merged)

		newID, err := BuildSST(ctx, m.storage, merged, m.blockSize, m.compress)
		if err != nil {
			return fmt.Errorf("compact level %d: %w", level, err)
		}

		for _, r := range m.readers[level] {
			_ = m.storage.Remove(ctx, storage.SSTID(r.id))
		}

		if level+1 >= len(m.manifest.Levels) {
			m.manifest.Levels = append(m.manifest.Levels, nil)
			m.readers = append(m.readers, nil)
		}
		m.manifest.Levels[level+1] = append(m.manifest.Levels[level+1], newID)
		m.readers[level+1] = append(m.readers[level+1], OpenSST(newID, m.storage))

		m.manifest.Levels[level] = nil
		m.readers[level] = nil

		m.logger.Debug("compacted level", "level", level, "into", newID, "entries", len(merged))
	}
	return nil
}

func sortEntries(entries []block.Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Less(entries[j]) })
}
