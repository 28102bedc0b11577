package lsm

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// BlockIterator walks the entries of a single block in key order, decoding
// prefix-compressed keys against the block's first key.
type BlockIterator struct {
	block    *Block
	firstKey []byte
	key      []byte
	value    []byte
	idx      int
}

// NewBlockIterator creates an unpositioned iterator; it stays invalid until
// SeekToFirst or SeekToKey is called
func NewBlockIterator(block *Block) *BlockIterator {
	return &BlockIterator{
		block:    block,
		firstKey: block.FirstKey(),
		idx:      len(block.offsets),
	}
}

// NewBlockIteratorAndSeekToFirst creates an iterator on the first entry
func NewBlockIteratorAndSeekToFirst(block *Block) *BlockIterator {
	it := NewBlockIterator(block)
	it.SeekToFirst()
	return it
}

// NewBlockIteratorAndSeekToKey creates an iterator on the first key >= key
func NewBlockIteratorAndSeekToKey(block *Block, key []byte) *BlockIterator {
	it := NewBlockIterator(block)
	it.SeekToKey(key)
	return it
}

// keyAt decodes the key of the idx-th entry
func (it *BlockIterator) keyAt(idx int) []byte {
	entry := it.block.data[it.block.offsets[idx]:]
	overlap := int(binary.BigEndian.Uint16(entry))
	rest := int(binary.BigEndian.Uint16(entry[sizeofU16:]))
	key := make([]byte, 0, overlap+rest)
	key = append(key, it.firstKey[:overlap]...)
	key = append(key, entry[2*sizeofU16:2*sizeofU16+rest]...)
	return key
}

// seekTo positions the iterator on the idx-th entry, or invalidates it when
// idx is past the end
func (it *BlockIterator) seekTo(idx int) {
	it.idx = idx
	if idx >= len(it.block.offsets) {
		it.key = nil
		it.value = nil
		return
	}
	entry := it.block.data[it.block.offsets[idx]:]
	overlap := int(binary.BigEndian.Uint16(entry))
	rest := int(binary.BigEndian.Uint16(entry[sizeofU16:]))
	valueLen := int(binary.BigEndian.Uint16(entry[2*sizeofU16+rest:]))

	key := make([]byte, 0, overlap+rest)
	key = append(key, it.firstKey[:overlap]...)
	key = append(key, entry[2*sizeofU16:2*sizeofU16+rest]...)
	it.key = key
	valueStart := 3*sizeofU16 + rest
	it.value = entry[valueStart : valueStart+valueLen]
}

// SeekToFirst positions the iterator on the first entry
func (it *BlockIterator) SeekToFirst() {
	it.seekTo(0)
}

// SeekToKey positions the iterator on the smallest key >= key using binary
// search over the offset index
func (it *BlockIterator) SeekToKey(key []byte) {
	idx := sort.Search(len(it.block.offsets), func(i int) bool {
		return bytes.Compare(it.keyAt(i), key) >= 0
	})
	it.seekTo(idx)
}

// Key returns the current key; only valid while IsValid
func (it *BlockIterator) Key() []byte {
	return it.key
}

// Value returns the current value; only valid while IsValid
func (it *BlockIterator) Value() []byte {
	return it.value
}

// IsValid returns true while the iterator is on an entry
func (it *BlockIterator) IsValid() bool {
	return it.idx < len(it.block.offsets)
}

// Next advances to the next entry
func (it *BlockIterator) Next() error {
	it.seekTo(it.idx + 1)
	return nil
}

// NumActiveIterators always reports one for a block iterator
func (it *BlockIterator) NumActiveIterators() int {
	return 1
}
