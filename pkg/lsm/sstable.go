package lsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/mmap"
)

// SsTable file layout:
//
//	block_0 || block_1 || ... || block_{m-1}     data region
//	block_meta_region                             u16 count, then per block:
//	                                              u32 offset || u16 first_key_len || first_key
//	                                              || u16 last_key_len || last_key
//	u32 block_meta_offset                         footer
//
// All integers big-endian. Blocks carry no length prefix; block sizes are
// derived from successive meta offsets and the meta region offset.

// BlockMeta describes one block of the data region
type BlockMeta struct {
	Offset   int
	FirstKey []byte
	LastKey  []byte
}

// encodeBlockMeta appends the encoded meta region to buf
func encodeBlockMeta(metas []BlockMeta, buf []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(metas)))
	for _, meta := range metas {
		buf = binary.BigEndian.AppendUint32(buf, uint32(meta.Offset))
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(meta.FirstKey)))
		buf = append(buf, meta.FirstKey...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(meta.LastKey)))
		buf = append(buf, meta.LastKey...)
	}
	return buf
}

// decodeBlockMeta parses the meta region
func decodeBlockMeta(data []byte) ([]BlockMeta, error) {
	if len(data) < sizeofU16 {
		return nil, corruptionError("decodeBlockMeta", "meta region too short")
	}
	count := int(binary.BigEndian.Uint16(data))
	pos := sizeofU16

	metas := make([]BlockMeta, 0, count)
	for i := 0; i < count; i++ {
		if pos+4+sizeofU16 > len(data) {
			return nil, corruptionError("decodeBlockMeta", "truncated meta entry")
		}
		offset := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		firstKeyLen := int(binary.BigEndian.Uint16(data[pos:]))
		pos += sizeofU16
		if pos+firstKeyLen+sizeofU16 > len(data) {
			return nil, corruptionError("decodeBlockMeta", "truncated first key")
		}
		firstKey := bytes.Clone(data[pos : pos+firstKeyLen])
		pos += firstKeyLen
		lastKeyLen := int(binary.BigEndian.Uint16(data[pos:]))
		pos += sizeofU16
		if pos+lastKeyLen > len(data) {
			return nil, corruptionError("decodeBlockMeta", "truncated last key")
		}
		lastKey := bytes.Clone(data[pos : pos+lastKeyLen])
		pos += lastKeyLen

		metas = append(metas, BlockMeta{Offset: offset, FirstKey: firstKey, LastKey: lastKey})
	}
	return metas, nil
}

// FileObject is a read-only handle to an on-disk table, backed by mmap
type FileObject struct {
	reader *mmap.ReaderAt
	size   int64
	path   string
}

// CreateFileObject atomically writes data to path (write to a unique temp
// file, then rename) and opens it for reading.
func CreateFileObject(path string, data []byte) (*FileObject, error) {
	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return OpenFileObject(path)
}

// OpenFileObject opens an existing file for mmap-backed reads
func OpenFileObject(path string) (*FileObject, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileObject{
		reader: reader,
		size:   int64(reader.Len()),
		path:   path,
	}, nil
}

// Read returns length bytes starting at offset
func (f *FileObject) Read(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := f.reader.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// Size returns the file size in bytes
func (f *FileObject) Size() int64 {
	return f.size
}

// Close releases the mapping
func (f *FileObject) Close() error {
	return f.reader.Close()
}

// SsTable is an immutable sorted table on disk
type SsTable struct {
	file            *FileObject
	blockMeta       []BlockMeta
	blockMetaOffset int
	id              int
	blockCache      *BlockCache
	filter          *TableFilter
	firstKey        []byte
	lastKey         []byte
}

// OpenSsTable opens an existing table file, decoding its meta region and
// loading the sidecar filter if present
func OpenSsTable(id int, cache *BlockCache, path string) (*SsTable, error) {
	file, err := OpenFileObject(path)
	if err != nil {
		return nil, tableError("OpenSsTable", id, err)
	}

	size := file.Size()
	if size < 4 {
		file.Close()
		return nil, corruptionError("OpenSsTable", "file shorter than footer")
	}
	footer, err := file.Read(size-4, 4)
	if err != nil {
		file.Close()
		return nil, tableError("OpenSsTable", id, err)
	}
	metaOffset := int(binary.BigEndian.Uint32(footer))
	if int64(metaOffset) > size-4 {
		file.Close()
		return nil, corruptionError("OpenSsTable", "meta offset out of range")
	}

	metaRegion, err := file.Read(int64(metaOffset), int(size-4)-metaOffset)
	if err != nil {
		file.Close()
		return nil, tableError("OpenSsTable", id, err)
	}
	metas, err := decodeBlockMeta(metaRegion)
	if err != nil {
		file.Close()
		return nil, err
	}
	if len(metas) == 0 {
		file.Close()
		return nil, corruptionError("OpenSsTable", "table has no blocks")
	}

	return &SsTable{
		file:            file,
		blockMeta:       metas,
		blockMetaOffset: metaOffset,
		id:              id,
		blockCache:      cache,
		filter:          LoadTableFilter(filterPathOf(path)),
		firstKey:        metas[0].FirstKey,
		lastKey:         metas[len(metas)-1].LastKey,
	}, nil
}

// filterPathOf derives the sidecar filter path from a table path
func filterPathOf(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".bloom"
}

// ReadBlock reads and decodes the idx-th block from disk
func (t *SsTable) ReadBlock(idx int) (*Block, error) {
	if idx < 0 || idx >= len(t.blockMeta) {
		return nil, tableError("ReadBlock", t.id, ErrInvariantViolated)
	}
	start := t.blockMeta[idx].Offset
	end := t.blockMetaOffset
	if idx+1 < len(t.blockMeta) {
		end = t.blockMeta[idx+1].Offset
	}

	raw, err := t.file.Read(int64(start), end-start)
	if err != nil {
		return nil, tableError("ReadBlock", t.id, err)
	}
	return DecodeBlock(raw)
}

// ReadBlockCached reads the idx-th block through the shared block cache
func (t *SsTable) ReadBlockCached(idx int) (*Block, error) {
	if t.blockCache != nil {
		if block, ok := t.blockCache.Get(t.id, idx); ok {
			return block, nil
		}
	}
	block, err := t.ReadBlock(idx)
	if err != nil {
		return nil, err
	}
	if t.blockCache != nil {
		t.blockCache.Put(t.id, idx, block)
	}
	return block, nil
}

// FindBlockIdx locates the block that may contain key: the last block whose
// first key is <= key, clamped to the first block.
func (t *SsTable) FindBlockIdx(key []byte) int {
	idx := sort.Search(len(t.blockMeta), func(i int) bool {
		return bytes.Compare(t.blockMeta[i].FirstKey, key) > 0
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// MayContain consults the table's bloom filter; true when no filter is loaded
func (t *SsTable) MayContain(key []byte) bool {
	if t.filter == nil {
		return true
	}
	return t.filter.MayContain(key)
}

// NumBlocks returns the number of data blocks
func (t *SsTable) NumBlocks() int {
	return len(t.blockMeta)
}

// FirstKey returns the smallest key in the table
func (t *SsTable) FirstKey() []byte {
	return t.firstKey
}

// LastKey returns the largest key in the table
func (t *SsTable) LastKey() []byte {
	return t.lastKey
}

// ID returns the table id
func (t *SsTable) ID() int {
	return t.id
}

// TableSize returns the file size in bytes
func (t *SsTable) TableSize() int64 {
	return t.file.Size()
}

// Close releases the underlying file
func (t *SsTable) Close() error {
	return t.file.Close()
}
