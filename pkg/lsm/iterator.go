package lsm

// Iterator is the common contract shared by every iterator in the engine:
// block, table, merge, concat and the engine-level range iterator. Key and
// Value are only defined while IsValid returns true.
type Iterator interface {
	// IsValid returns true while the iterator is positioned on an entry
	IsValid() bool
	// Key returns the current key; only valid while IsValid
	Key() []byte
	// Value returns the current value; only valid while IsValid
	Value() []byte
	// Next advances to the next entry
	Next() error
	// NumActiveIterators reports how many underlying iterators are alive
	NumActiveIterators() int
}

// FusedIterator wraps an iterator with a sticky error bit. Once Next returns
// an error the iterator stays invalid and every further Next fails; calling
// Next on an already-invalid iterator is a no-op success.
type FusedIterator struct {
	iter       Iterator
	hasErrored bool
}

// NewFusedIterator wraps iter with fused error semantics
func NewFusedIterator(iter Iterator) *FusedIterator {
	return &FusedIterator{iter: iter}
}

// IsValid returns true while no error occurred and the inner iterator is valid
func (f *FusedIterator) IsValid() bool {
	return !f.hasErrored && f.iter.IsValid()
}

// Key returns the current key
func (f *FusedIterator) Key() []byte {
	return f.iter.Key()
}

// Value returns the current value
func (f *FusedIterator) Value() []byte {
	return f.iter.Value()
}

// Next advances the inner iterator, latching any error
func (f *FusedIterator) Next() error {
	if f.hasErrored {
		return ErrIteratorErrored
	}
	if f.iter.IsValid() {
		if err := f.iter.Next(); err != nil {
			f.hasErrored = true
			return err
		}
	}
	return nil
}

// NumActiveIterators reports the inner iterator count
func (f *FusedIterator) NumActiveIterators() int {
	return f.iter.NumActiveIterators()
}
