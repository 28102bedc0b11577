package lsm

import (
	"bytes"
)

// TwoMergeIterator merges two iterators of possibly different shapes. When
// both sides hold the same key, A wins and B is advanced past the key before
// the next emission. Tombstones (empty values) at the front of either side
// are skipped before choosing.
type TwoMergeIterator struct {
	a          Iterator
	b          Iterator
	currentIsA bool
}

// NewTwoMergeIterator builds the merged view over a and b, preferring a on ties
func NewTwoMergeIterator(a, b Iterator) (*TwoMergeIterator, error) {
	it := &TwoMergeIterator{a: a, b: b, currentIsA: true}
	if err := it.moveToExist(); err != nil {
		return nil, err
	}
	return it, nil
}

// moveToExist skips leading tombstones on both sides, then picks the side
// holding the smaller key; on equal keys A wins and B steps past the key.
func (it *TwoMergeIterator) moveToExist() error {
	for it.a.IsValid() && len(it.a.Value()) == 0 {
		if err := it.a.Next(); err != nil {
			return err
		}
	}
	for it.b.IsValid() && len(it.b.Value()) == 0 {
		if err := it.b.Next(); err != nil {
			return err
		}
	}

	switch {
	case it.a.IsValid() && it.b.IsValid():
		cmp := bytes.Compare(it.a.Key(), it.b.Key())
		switch {
		case cmp == 0:
			it.currentIsA = true
			if err := it.b.Next(); err != nil {
				return err
			}
		case cmp < 0:
			it.currentIsA = true
		default:
			it.currentIsA = false
		}
	case it.a.IsValid():
		it.currentIsA = true
	default:
		it.currentIsA = false
	}
	return nil
}

// Key returns the current key
func (it *TwoMergeIterator) Key() []byte {
	if it.currentIsA {
		return it.a.Key()
	}
	return it.b.Key()
}

// Value returns the current value
func (it *TwoMergeIterator) Value() []byte {
	if it.currentIsA {
		return it.a.Value()
	}
	return it.b.Value()
}

// IsValid returns true while either side has entries
func (it *TwoMergeIterator) IsValid() bool {
	return it.a.IsValid() || it.b.IsValid()
}

// Next advances the winning side and re-selects
func (it *TwoMergeIterator) Next() error {
	if it.currentIsA {
		if err := it.a.Next(); err != nil {
			return err
		}
	} else {
		if err := it.b.Next(); err != nil {
			return err
		}
	}
	return it.moveToExist()
}

// NumActiveIterators sums both sides
func (it *TwoMergeIterator) NumActiveIterators() int {
	return it.a.NumActiveIterators() + it.b.NumActiveIterators()
}
