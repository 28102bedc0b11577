package lsm

import (
	"bytes"
	"encoding/binary"
)

// BlockBuilder packs sorted entries into a size-bounded block, compressing
// each key against the block's first key.
type BlockBuilder struct {
	offsets   []uint16
	data      []byte
	blockSize int
	firstKey  []byte
	lastKey   []byte
}

// NewBlockBuilder creates a builder targeting the given encoded block size
func NewBlockBuilder(blockSize int) *BlockBuilder {
	return &BlockBuilder{
		offsets:   make([]uint16, 0),
		data:      make([]byte, 0, blockSize),
		blockSize: blockSize,
	}
}

// computeOverlap returns the length of the shared prefix of two keys
func computeOverlap(firstKey, key []byte) int {
	n := len(firstKey)
	if len(key) < n {
		n = len(key)
	}
	overlap := 0
	for overlap < n && firstKey[overlap] == key[overlap] {
		overlap++
	}
	return overlap
}

// estimatedSize returns the encoded size of the block so far
func (b *BlockBuilder) estimatedSize() int {
	return len(b.data) + len(b.offsets)*sizeofU16 + sizeofU16
}

// Add appends a key-value pair. It returns false without mutating the block
// when the entry would push the encoded size past the target; the first
// entry is always accepted. Keys must be added in strictly increasing order.
func (b *BlockBuilder) Add(key, value []byte) bool {
	overlap := 0
	if len(b.firstKey) > 0 {
		overlap = computeOverlap(b.firstKey, key)
	}
	rest := len(key) - overlap

	if !b.IsEmpty() && b.estimatedSize()+rest+len(value)+entryOverhead > b.blockSize {
		return false
	}

	b.offsets = append(b.offsets, uint16(len(b.data)))
	b.data = binary.BigEndian.AppendUint16(b.data, uint16(overlap))
	b.data = binary.BigEndian.AppendUint16(b.data, uint16(rest))
	b.data = append(b.data, key[overlap:]...)
	b.data = binary.BigEndian.AppendUint16(b.data, uint16(len(value)))
	b.data = append(b.data, value...)

	if len(b.firstKey) == 0 {
		b.firstKey = bytes.Clone(key)
	}
	b.lastKey = bytes.Clone(key)
	return true
}

// IsEmpty returns true while no entry has been added
func (b *BlockBuilder) IsEmpty() bool {
	return len(b.offsets) == 0
}

// FirstKey returns the first key added to the block
func (b *BlockBuilder) FirstKey() []byte {
	return b.firstKey
}

// LastKey returns the last key added to the block
func (b *BlockBuilder) LastKey() []byte {
	return b.lastKey
}

// Build finalizes the builder into an immutable Block
func (b *BlockBuilder) Build() *Block {
	return &Block{
		data:    b.data,
		offsets: b.offsets,
	}
}
