package lsm

import (
	"bytes"
	"container/heap"
)

// mergeHeapItem pairs an iterator with its source index. The index breaks
// ties between equal keys: the smaller source index wins.
type mergeHeapItem struct {
	index int
	iter  Iterator
}

// mergeHeap is a min-heap ordered by (current key, source index)
type mergeHeap []*mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	cmp := bytes.Compare(h[i].iter.Key(), h[j].iter.Key())
	if cmp != 0 {
		return cmp < 0
	}
	return h[i].index < h[j].index
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*mergeHeapItem)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MergeIterator merges N iterators into a single sorted stream. When the
// same key occurs in several sources, only the entry from the source with
// the smallest index is emitted; the other sources are advanced past it.
type MergeIterator struct {
	iters   mergeHeap
	current *mergeHeapItem
}

// NewMergeIterator builds a merge iterator over the given sources. Source
// order matters: earlier sources shadow later ones on equal keys.
func NewMergeIterator(iters []Iterator) *MergeIterator {
	h := make(mergeHeap, 0, len(iters))
	for i, iter := range iters {
		if iter != nil && iter.IsValid() {
			h = append(h, &mergeHeapItem{index: i, iter: iter})
		}
	}
	heap.Init(&h)

	m := &MergeIterator{iters: h}
	if h.Len() > 0 {
		m.current = heap.Pop(&m.iters).(*mergeHeapItem)
	}
	return m
}

// Key returns the current key
func (m *MergeIterator) Key() []byte {
	return m.current.iter.Key()
}

// Value returns the current value
func (m *MergeIterator) Value() []byte {
	return m.current.iter.Value()
}

// IsValid returns true while any source still has entries
func (m *MergeIterator) IsValid() bool {
	return m.current != nil && m.current.iter.IsValid()
}

// Next emits at most one entry per key: every other source positioned on the
// current key is advanced past it, then the head is advanced and the next
// smallest (key, index) pair becomes current.
func (m *MergeIterator) Next() error {
	current := m.current
	key := current.iter.Key()

	for m.iters.Len() > 0 {
		top := m.iters[0]
		if !bytes.Equal(top.iter.Key(), key) {
			break
		}
		if err := top.iter.Next(); err != nil {
			heap.Pop(&m.iters)
			return err
		}
		if top.iter.IsValid() {
			heap.Fix(&m.iters, 0)
		} else {
			heap.Pop(&m.iters)
		}
	}

	if err := current.iter.Next(); err != nil {
		return err
	}
	if current.iter.IsValid() {
		heap.Push(&m.iters, current)
	}

	if m.iters.Len() == 0 {
		m.current = nil
		return nil
	}
	m.current = heap.Pop(&m.iters).(*mergeHeapItem)
	return nil
}

// NumActiveIterators sums the active iterators of every live source
func (m *MergeIterator) NumActiveIterators() int {
	total := 0
	for _, item := range m.iters {
		total += item.iter.NumActiveIterators()
	}
	if m.current != nil {
		total += m.current.iter.NumActiveIterators()
	}
	return total
}
