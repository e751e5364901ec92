package lsm

import (
	"container/heap"

	"gastrolog/internal/lsm/block"
)

// MergeIterator merges several already-sorted entry sources into one
// (key, revision)-ordered stream. Sources are given in freshness order:
// index 0 is the freshest (e.g. the mutable memtable), increasing indices
// are progressively older (immutable memtables, then L0 newest-to-oldest,
// then lower levels). When two sources carry the same (key, revision) the
// entry from the lower-indexed (fresher) source wins and the rest are
// dropped, so callers always observe the most recent write.
type MergeIterator struct {
	h *mergeHeap
}

type mergeItem struct {
	entry      block.Entry
	sourceIdx  int
	remaining  []block.Entry
	sourceRank int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].entry, h[j].entry
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	if a.Revision != b.Revision {
		return a.Revision < b.Revision
	}
	return h[i].sourceRank < h[j].sourceRank
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewMergeIterator builds a MergeIterator over sources, where sources[0] is
// the freshest. Each source slice must already be sorted by (key,
// revision) ascending.
func NewMergeIterator(sources [][]block.Entry) *MergeIterator {
	h := &mergeHeap{}
	for i, src := range sources {
		if len(src) == 0 {
			continue
		}
		heap.Push(h, mergeItem{entry: src[0], sourceIdx: i, remaining: src[1:], sourceRank: i})
	}
	heap.Init(h)
	return &MergeIterator{h: h}
}

// Next returns the next entry in merged order, skipping any stale
// duplicates from less-fresh sources, or ok=false when exhausted.
func (m *MergeIterator) Next() (block.Entry, bool) {
	if m.h.Len() == 0 {
		return block.Entry{}, false
	}

	top := heap.Pop(m.h).(mergeItem)
	result := top.entry
	if len(top.remaining) > 0 {
		heap.Push(m.h, mergeItem{entry: top.remaining[0], sourceIdx: top.sourceIdx, remaining: top.remaining[1:], sourceRank: top.sourceRank})
	}

	// Drop any other source's entry for the same (key, revision): the
	// entry we just returned came from the freshest (lowest sourceRank)
	// source among ties, since the heap orders by sourceRank last.
	for m.h.Len() > 0 {
		next := (*m.h)[0]
		if next.entry.Key != result.Key || next.entry.Revision != result.Revision {
			break
		}
		heap.Pop(m.h)
		if len(next.remaining) > 0 {
			heap.Push(m.h, mergeItem{entry: next.remaining[0], sourceIdx: next.sourceIdx, remaining: next.remaining[1:], sourceRank: next.sourceRank})
		}
	}

	return result, true
}

// Collect drains the iterator entirely, for tests and small merges.
func (m *MergeIterator) Collect() []block.Entry {
	var out []block.Entry
	for {
		e, ok := m.Next()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}
