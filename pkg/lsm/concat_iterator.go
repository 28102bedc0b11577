package lsm

import (
	"bytes"
	"sort"
)

// SstConcatIterator iterates an ordered list of tables whose key ranges are
// disjoint and increasing (a single sorted run). Inner table iterators are
// constructed lazily; exhausting one advances to the next table.
type SstConcatIterator struct {
	current    *SsTableIterator
	nextSstIdx int
	sstables   []*SsTable
}

// NewSstConcatIteratorFirst creates an iterator on the run's first entry
func NewSstConcatIteratorFirst(sstables []*SsTable) (*SstConcatIterator, error) {
	it := &SstConcatIterator{sstables: sstables}
	if len(sstables) > 0 {
		inner, err := NewSsTableIteratorAndSeekToFirst(sstables[0])
		if err != nil {
			return nil, err
		}
		it.current = inner
		it.nextSstIdx = 1
	}
	if err := it.moveUntilValid(); err != nil {
		return nil, err
	}
	return it, nil
}

// NewSstConcatIteratorSeek creates an iterator on the run's smallest key >= key
func NewSstConcatIteratorSeek(sstables []*SsTable, key []byte) (*SstConcatIterator, error) {
	it := &SstConcatIterator{sstables: sstables, nextSstIdx: len(sstables)}

	// First table whose last key admits the target
	idx := sort.Search(len(sstables), func(i int) bool {
		return bytes.Compare(sstables[i].LastKey(), key) >= 0
	})
	if idx < len(sstables) {
		inner, err := NewSsTableIteratorAndSeekToKey(sstables[idx], key)
		if err != nil {
			return nil, err
		}
		it.current = inner
		it.nextSstIdx = idx + 1
	}
	if err := it.moveUntilValid(); err != nil {
		return nil, err
	}
	return it, nil
}

// moveUntilValid steps to the next table while the current iterator is exhausted
func (it *SstConcatIterator) moveUntilValid() error {
	for it.current == nil || !it.current.IsValid() {
		if it.nextSstIdx >= len(it.sstables) {
			it.current = nil
			return nil
		}
		inner, err := NewSsTableIteratorAndSeekToFirst(it.sstables[it.nextSstIdx])
		if err != nil {
			return err
		}
		it.current = inner
		it.nextSstIdx++
	}
	return nil
}

// Key returns the current key
func (it *SstConcatIterator) Key() []byte {
	return it.current.Key()
}

// Value returns the current value
func (it *SstConcatIterator) Value() []byte {
	return it.current.Value()
}

// IsValid returns true while the run has entries left
func (it *SstConcatIterator) IsValid() bool {
	return it.current != nil && it.current.IsValid()
}

// Next advances within the current table, then across tables
func (it *SstConcatIterator) Next() error {
	if it.current != nil {
		if err := it.current.Next(); err != nil {
			return err
		}
	}
	return it.moveUntilValid()
}

// NumActiveIterators always reports one: only a single inner iterator is
// ever materialized
func (it *SstConcatIterator) NumActiveIterators() int {
	return 1
}
