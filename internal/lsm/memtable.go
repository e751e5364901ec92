package lsm

import (
	"sort"
	"sync"

	"gastrolog/internal/lsm/block"
)

// Memtable is the LSM's mutable, in-memory layer: an ordered map from
// stream key to an ordered map from revision to log position. Puts are
// O(log n); gets, highest-revision lookups, and forward/backward scans all
// bind to the same ordering.
type Memtable struct {
	mu      sync.RWMutex
	streams map[uint64]*revisions
	size    int
}

type revisions struct {
	// sorted ascending by revision.
	entries []block.Entry
}

func (r *revisions) insert(e block.Entry) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Revision >= e.Revision })
	if i < len(r.entries) && r.entries[i].Revision == e.Revision {
		r.entries[i] = e
		return
	}
	r.entries = append(r.entries, block.Entry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = e
}

func (r *revisions) get(revision uint64) (block.Entry, bool) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Revision >= revision })
	if i < len(r.entries) && r.entries[i].Revision == revision {
		return r.entries[i], true
	}
	return block.Entry{}, false
}

func (r *revisions) highest() (block.Entry, bool) {
	if len(r.entries) == 0 {
		return block.Entry{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// NewMemtable creates an empty Memtable.
func NewMemtable() *Memtable {
	return &Memtable{streams: make(map[uint64]*revisions)}
}

// Put inserts or overwrites one entry.
func (m *Memtable) Put(e block.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.streams[e.Key]
	if !ok {
		r = &revisions{}
		m.streams[e.Key] = r
	}
	r.insert(e)
	m.size += block.EntrySize
}

// PutMany inserts a batch of entries under one lock acquisition.
func (m *Memtable) PutMany(entries []block.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		r, ok := m.streams[e.Key]
		if !ok {
			r = &revisions{}
			m.streams[e.Key] = r
		}
		r.insert(e)
		m.size += block.EntrySize
	}
}

// Get looks up the position for (key, revision).
func (m *Memtable) Get(key, revision uint64) (block.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.streams[key]
	if !ok {
		return block.Entry{}, false
	}
	return r.get(revision)
}

// HighestRevision returns the entry with the greatest revision recorded for
// key, matching scan_backward(key, MAX, 1).
func (m *Memtable) HighestRevision(key uint64) (block.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.streams[key]
	if !ok {
		return block.Entry{}, false
	}
	return r.highest()
}

// ApproxSize reports the memtable's size in bytes, for flush-threshold
// decisions.
func (m *Memtable) ApproxSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Scan returns up to count entries for key starting at (and including)
// start, scanning forward or backward by revision.
func (m *Memtable) Scan(key uint64, start uint64, forward bool, count int) []block.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.streams[key]
	if !ok {
		return nil
	}

	var out []block.Entry
	if forward {
		i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Revision >= start })
		for ; i < len(r.entries) && len(out) < count; i++ {
			out = append(out, r.entries[i])
		}
		return out
	}

	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Revision > start }) - 1
	for ; i >= 0 && len(out) < count; i-- {
		out = append(out, r.entries[i])
	}
	return out
}

// All returns every entry, sorted by (key, revision), for building an SST
// at flush time.
func (m *Memtable) All() []block.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]uint64, 0, len(m.streams))
	for k := range m.streams {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []block.Entry
	for _, k := range keys {
		out = append(out, m.streams[k].entries...)
	}
	return out
}
