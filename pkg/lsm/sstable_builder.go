package lsm

import (
	"bytes"
	"encoding/binary"
)

// SsTableBuilder builds an SsTable from key-value pairs added in strictly
// increasing key order.
type SsTableBuilder struct {
	builder   *BlockBuilder
	firstKey  []byte
	lastKey   []byte
	data      []byte
	meta      []BlockMeta
	keys      [][]byte
	blockSize int
}

// NewSsTableBuilder creates a builder targeting the given block size
func NewSsTableBuilder(blockSize int) *SsTableBuilder {
	return &SsTableBuilder{
		builder:   NewBlockBuilder(blockSize),
		blockSize: blockSize,
	}
}

// Add appends a key-value pair, starting a new block when the current one is
// full. The table's first key is captured from the very first entry and is
// never reset by block splits.
func (b *SsTableBuilder) Add(key, value []byte) error {
	if len(key) == 0 {
		return opError("Add", ErrEmptyKey)
	}
	if len(b.lastKey) > 0 && bytes.Compare(key, b.lastKey) <= 0 {
		return &EngineError{Op: "Add", Cause: ErrInvariantViolated, Context: "keys must be strictly increasing"}
	}
	if len(b.firstKey) == 0 {
		b.firstKey = bytes.Clone(key)
	}
	b.lastKey = bytes.Clone(key)
	b.keys = append(b.keys, b.lastKey)

	if b.builder.Add(key, value) {
		return nil
	}

	b.finishBlock()
	if !b.builder.Add(key, value) {
		return &EngineError{Op: "Add", Cause: ErrInvariantViolated, Context: "entry rejected by empty block"}
	}
	return nil
}

// finishBlock seals the current block: records its meta entry and appends
// the encoded bytes to the data region
func (b *SsTableBuilder) finishBlock() {
	old := b.builder
	b.builder = NewBlockBuilder(b.blockSize)
	b.meta = append(b.meta, BlockMeta{
		Offset:   len(b.data),
		FirstKey: old.FirstKey(),
		LastKey:  old.LastKey(),
	})
	b.data = append(b.data, old.Build().Encode()...)
}

// EstimatedSize returns the current data-region length
func (b *SsTableBuilder) EstimatedSize() int {
	return len(b.data)
}

// IsEmpty returns true while nothing has been added
func (b *SsTableBuilder) IsEmpty() bool {
	return len(b.data) == 0 && b.builder.IsEmpty()
}

// Build encodes the table, writes it atomically to path with its sidecar
// filter, and returns the opened table
func (b *SsTableBuilder) Build(id int, cache *BlockCache, path string) (*SsTable, error) {
	if !b.builder.IsEmpty() {
		b.finishBlock()
	}

	buf := make([]byte, 0, len(b.data)+64)
	buf = append(buf, b.data...)
	buf = encodeBlockMeta(b.meta, buf)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b.data)))

	file, err := CreateFileObject(path, buf)
	if err != nil {
		return nil, tableError("Build", id, err)
	}

	filter := BuildTableFilter(b.keys)
	if err := filter.Save(filterPathOf(path)); err != nil {
		file.Close()
		return nil, tableError("Build", id, err)
	}

	return &SsTable{
		file:            file,
		blockMeta:       b.meta,
		blockMetaOffset: len(b.data),
		id:              id,
		blockCache:      cache,
		filter:          filter,
		firstKey:        b.firstKey,
		lastKey:         b.lastKey,
	}, nil
}
