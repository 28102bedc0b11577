package lsm

import (
	"encoding/binary"
)

// Block is the smallest unit of read and caching: a sorted run of key-value
// entries with a tail offset index. Keys are prefix-compressed against the
// block's first key.
//
// Encoded layout (big-endian):
//
//	data_region: entry_0 || entry_1 || ... || entry_{n-1}
//	offsets:     u16 * n
//	footer:      u16 n
//
// Entry layout:
//
//	u16 overlap_len || u16 rest_len || key_rest || u16 value_len || value
type Block struct {
	data    []byte
	offsets []uint16
}

const (
	// sizeofU16 is the width of every length/offset field in a block
	sizeofU16 = 2
	// entryOverhead is the fixed per-entry cost: overlap_len, rest_len,
	// value_len and the offset slot
	entryOverhead = 4 * sizeofU16
)

// Encode serializes the block into its on-disk layout
func (b *Block) Encode() []byte {
	encoded := make([]byte, 0, len(b.data)+sizeofU16*len(b.offsets)+sizeofU16)
	encoded = append(encoded, b.data...)
	for _, offset := range b.offsets {
		encoded = binary.BigEndian.AppendUint16(encoded, offset)
	}
	encoded = binary.BigEndian.AppendUint16(encoded, uint16(len(b.offsets)))
	return encoded
}

// DecodeBlock parses an encoded block, validating its structure
func DecodeBlock(data []byte) (*Block, error) {
	if len(data) < sizeofU16 {
		return nil, corruptionError("DecodeBlock", "block shorter than footer")
	}
	numEntries := int(binary.BigEndian.Uint16(data[len(data)-sizeofU16:]))
	offsetsEnd := len(data) - sizeofU16
	offsetsStart := offsetsEnd - numEntries*sizeofU16
	if offsetsStart < 0 {
		return nil, corruptionError("DecodeBlock", "offset index overflows block")
	}

	offsets := make([]uint16, numEntries)
	for i := 0; i < numEntries; i++ {
		offsets[i] = binary.BigEndian.Uint16(data[offsetsStart+i*sizeofU16:])
		if int(offsets[i]) >= offsetsStart {
			return nil, corruptionError("DecodeBlock", "entry offset past data region")
		}
		if i > 0 && offsets[i] <= offsets[i-1] {
			return nil, corruptionError("DecodeBlock", "entry offsets not increasing")
		}
	}

	return &Block{
		data:    data[:offsetsStart],
		offsets: offsets,
	}, nil
}

// FirstKey reconstructs the first key of the block. The first entry always
// has overlap_len = 0, so its rest bytes are the complete key.
func (b *Block) FirstKey() []byte {
	if len(b.offsets) == 0 {
		return nil
	}
	restLen := int(binary.BigEndian.Uint16(b.data[sizeofU16:]))
	key := make([]byte, restLen)
	copy(key, b.data[2*sizeofU16:2*sizeofU16+restLen])
	return key
}

// NumEntries returns the number of entries in the block
func (b *Block) NumEntries() int {
	return len(b.offsets)
}
