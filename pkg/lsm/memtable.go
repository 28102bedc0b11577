package lsm

import (
	"bytes"
	"os"
	"sync/atomic"
)

// kvEntry is one key-value pair snapshot
type kvEntry struct {
	key   []byte
	value []byte
}

// MemTable is the in-memory write buffer: a concurrent ordered map tagged
// with an id and an approximate byte size. The size only grows; overwrites
// and tombstones still add their key+value bytes. After being frozen the
// engine routes no new writes to the table; puts that raced the freeze may
// still complete into it.
type MemTable struct {
	list            *skipList
	wal             *WAL
	walPath         string
	id              int
	approximateSize atomic.Int64
}

// NewMemTable creates an empty memtable
func NewMemTable(id int) *MemTable {
	return &MemTable{
		list: newSkipList(int64(id) + 1),
		id:   id,
	}
}

// NewMemTableWithWAL creates an empty memtable backed by a write-ahead log
func NewMemTableWithWAL(id int, path string, compress bool) (*MemTable, error) {
	wal, err := NewWAL(path, compress)
	if err != nil {
		return nil, err
	}
	mt := NewMemTable(id)
	mt.wal = wal
	mt.walPath = path
	return mt, nil
}

// RecoverMemTableFromWAL rebuilds a memtable from an existing log file. The
// recovered table keeps no live WAL handle: it is already immutable, but it
// remembers the log path so a successful flush can remove it.
func RecoverMemTableFromWAL(id int, path string) (*MemTable, error) {
	mt := NewMemTable(id)
	mt.walPath = path
	err := ReplayWAL(path, func(key, value []byte) {
		mt.list.Insert(bytes.Clone(key), bytes.Clone(value))
		mt.approximateSize.Add(int64(len(key) + len(value)))
	})
	if err != nil {
		return nil, err
	}
	return mt, nil
}

// Put inserts a key-value pair. The receiver is never mutated structurally,
// so concurrent readers and the writer path need no external lock.
func (mt *MemTable) Put(key, value []byte) error {
	if mt.wal != nil {
		if err := mt.wal.Append(key, value); err != nil {
			return err
		}
	}
	mt.list.Insert(bytes.Clone(key), bytes.Clone(value))
	mt.approximateSize.Add(int64(len(key) + len(value)))
	return nil
}

// Get retrieves a value by key. An empty value is a tombstone; the caller
// decides how to surface it.
func (mt *MemTable) Get(key []byte) ([]byte, bool) {
	return mt.list.Get(key)
}

// Scan returns an iterator over the bound pair
func (mt *MemTable) Scan(lower, upper Bound) *MemTableIterator {
	return newMemTableIterator(mt.list.Range(lower, upper))
}

// Flush drains every entry in key order into the given table builder,
// tombstones included.
func (mt *MemTable) Flush(builder *SsTableBuilder) error {
	for _, entry := range mt.list.Range(Unbounded(), Unbounded()) {
		if err := builder.Add(entry.key, entry.value); err != nil {
			return err
		}
	}
	return nil
}

// SyncWAL fsyncs the table's log; no-op without one
func (mt *MemTable) SyncWAL() error {
	if mt.wal == nil {
		return nil
	}
	return mt.wal.Sync()
}

// CloseWAL closes the table's log; no-op without one
func (mt *MemTable) CloseWAL() error {
	if mt.wal == nil {
		return nil
	}
	return mt.wal.Close()
}

// RemoveWAL closes and deletes the table's log file after a successful flush
func (mt *MemTable) RemoveWAL() error {
	if mt.wal != nil {
		if err := mt.wal.Close(); err != nil {
			return err
		}
	}
	if mt.walPath == "" {
		return nil
	}
	return os.Remove(mt.walPath)
}

// ID returns the memtable id; the flush path reuses it as the SST id
func (mt *MemTable) ID() int {
	return mt.id
}

// ApproximateSize returns the monotonic byte-size estimate
func (mt *MemTable) ApproximateSize() int {
	return int(mt.approximateSize.Load())
}

// IsEmpty returns true while no entry has been inserted
func (mt *MemTable) IsEmpty() bool {
	return mt.list.Len() == 0
}

// MemTableIterator iterates a point-in-time snapshot of a memtable range.
// The snapshot is taken at creation, so it stays stable while the active
// memtable keeps absorbing writes.
type MemTableIterator struct {
	entries []kvEntry
	idx     int
}

func newMemTableIterator(entries []kvEntry) *MemTableIterator {
	return &MemTableIterator{entries: entries}
}

// Key returns the current key
func (it *MemTableIterator) Key() []byte {
	return it.entries[it.idx].key
}

// Value returns the current value
func (it *MemTableIterator) Value() []byte {
	return it.entries[it.idx].value
}

// IsValid returns true while the iterator is on an entry
func (it *MemTableIterator) IsValid() bool {
	return it.idx < len(it.entries)
}

// Next advances to the next entry
func (it *MemTableIterator) Next() error {
	it.idx++
	return nil
}

// NumActiveIterators always reports one for a memtable iterator
func (it *MemTableIterator) NumActiveIterators() int {
	return 1
}
