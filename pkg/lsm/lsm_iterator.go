package lsm

import (
	"bytes"
)

// BoundKind tags a scan bound
type BoundKind int

const (
	// BoundUnbounded leaves the scan open on this side
	BoundUnbounded BoundKind = iota
	// BoundIncluded includes the bound key
	BoundIncluded
	// BoundExcluded excludes the bound key
	BoundExcluded
)

// Bound is one endpoint of a scan range
type Bound struct {
	Kind BoundKind
	Key  []byte
}

// Unbounded returns an open bound
func Unbounded() Bound {
	return Bound{Kind: BoundUnbounded}
}

// Included returns an inclusive bound at key
func Included(key []byte) Bound {
	return Bound{Kind: BoundIncluded, Key: key}
}

// Excluded returns an exclusive bound at key
func Excluded(key []byte) Bound {
	return Bound{Kind: BoundExcluded, Key: key}
}

// LsmIterator is the engine-level range iterator: it hides tombstones and
// enforces the scan's upper bound over the merged view of every layer.
type LsmIterator struct {
	inner Iterator
	upper Bound
}

// NewLsmIterator wraps the merged iterator stack, skipping any leading
// tombstones
func NewLsmIterator(inner Iterator, upper Bound) (*LsmIterator, error) {
	it := &LsmIterator{inner: inner, upper: upper}
	for it.IsValid() && len(it.inner.Value()) == 0 {
		if err := it.inner.Next(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// withinUpper reports whether the current inner key respects the upper bound
func (it *LsmIterator) withinUpper() bool {
	switch it.upper.Kind {
	case BoundIncluded:
		return bytes.Compare(it.inner.Key(), it.upper.Key) <= 0
	case BoundExcluded:
		return bytes.Compare(it.inner.Key(), it.upper.Key) < 0
	default:
		return true
	}
}

// IsValid returns true while the inner iterator holds an entry inside the range
func (it *LsmIterator) IsValid() bool {
	return it.inner.IsValid() && it.withinUpper()
}

// Key returns the current key
func (it *LsmIterator) Key() []byte {
	return it.inner.Key()
}

// Value returns the current value; never empty for a valid iterator
func (it *LsmIterator) Value() []byte {
	return it.inner.Value()
}

// Next advances past the current entry and any tombstones behind it
func (it *LsmIterator) Next() error {
	if err := it.inner.Next(); err != nil {
		return err
	}
	for it.IsValid() && len(it.inner.Value()) == 0 {
		if err := it.inner.Next(); err != nil {
			return err
		}
	}
	return nil
}

// NumActiveIterators reports the inner iterator count
func (it *LsmIterator) NumActiveIterators() int {
	return it.inner.NumActiveIterators()
}
