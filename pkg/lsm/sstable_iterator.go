package lsm

// SsTableIterator walks every entry of one table in key order, spanning
// block boundaries.
type SsTableIterator struct {
	table   *SsTable
	blkIter *BlockIterator
	blkIdx  int
}

// NewSsTableIteratorAndSeekToFirst creates an iterator on the table's first entry
func NewSsTableIteratorAndSeekToFirst(table *SsTable) (*SsTableIterator, error) {
	it := &SsTableIterator{table: table}
	if err := it.SeekToFirst(); err != nil {
		return nil, err
	}
	return it, nil
}

// NewSsTableIteratorAndSeekToKey creates an iterator on the first key >= key
func NewSsTableIteratorAndSeekToKey(table *SsTable, key []byte) (*SsTableIterator, error) {
	it := &SsTableIterator{table: table}
	if err := it.SeekToKey(key); err != nil {
		return nil, err
	}
	return it, nil
}

// SeekToFirst positions the iterator on the first entry of the first block
func (it *SsTableIterator) SeekToFirst() error {
	block, err := it.table.ReadBlockCached(0)
	if err != nil {
		return err
	}
	it.blkIdx = 0
	it.blkIter = NewBlockIteratorAndSeekToFirst(block)
	return nil
}

// SeekToKey positions the iterator on the smallest key >= key. The target
// block is located by comparing block first keys; when the key falls past
// the located block's last entry the iterator moves to the next block.
func (it *SsTableIterator) SeekToKey(key []byte) error {
	idx := it.table.FindBlockIdx(key)
	block, err := it.table.ReadBlockCached(idx)
	if err != nil {
		return err
	}
	blkIter := NewBlockIteratorAndSeekToKey(block, key)
	if !blkIter.IsValid() && idx+1 < it.table.NumBlocks() {
		idx++
		block, err = it.table.ReadBlockCached(idx)
		if err != nil {
			return err
		}
		blkIter = NewBlockIteratorAndSeekToFirst(block)
	}
	it.blkIdx = idx
	it.blkIter = blkIter
	return nil
}

// Key returns the current key
func (it *SsTableIterator) Key() []byte {
	return it.blkIter.Key()
}

// Value returns the current value
func (it *SsTableIterator) Value() []byte {
	return it.blkIter.Value()
}

// IsValid returns true while the iterator is on an entry
func (it *SsTableIterator) IsValid() bool {
	return it.blkIter != nil && it.blkIter.IsValid()
}

// Next advances, moving to the first entry of the next block when the
// current block is exhausted
func (it *SsTableIterator) Next() error {
	if err := it.blkIter.Next(); err != nil {
		return err
	}
	if !it.blkIter.IsValid() && it.blkIdx+1 < it.table.NumBlocks() {
		it.blkIdx++
		block, err := it.table.ReadBlockCached(it.blkIdx)
		if err != nil {
			return err
		}
		it.blkIter = NewBlockIteratorAndSeekToFirst(block)
	}
	return nil
}

// NumActiveIterators always reports one for a table iterator
func (it *SsTableIterator) NumActiveIterators() int {
	return 1
}
