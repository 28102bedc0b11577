package lsm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

// Engine is an embedded ordered key-value store backed by an LSM tree.
// Writes land in the active memtable; frozen memtables are flushed to L0
// tables by a background thread; a compaction thread reshapes the levels.
type Engine struct {
	// stateMu guards the state pointer; readers clone the reference and
	// release the lock before doing any I/O
	stateMu sync.RWMutex
	state   *storageState
	// stateLock serializes state transitions (freeze, flush, compaction
	// apply); it is acquired before the write side of stateMu
	stateLock sync.Mutex

	path       string
	options    Options
	blockCache *BlockCache
	nextID     atomic.Int64
	controller CompactionController
	logger     logging.Logger
	metrics    *Metrics
	stats      engineStats

	flushStop      chan struct{}
	compactionStop chan struct{}
	wg             sync.WaitGroup
	closed         atomic.Bool
}

const workerTickInterval = 50 * time.Millisecond

// Open starts an engine over the directory at path, creating it when absent
// and recovering existing tables and write-ahead logs when present.
func Open(path string, options Options) (*Engine, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if options.Logger == nil {
		options.Logger = logging.DefaultLogger()
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, opError("Open", err)
	}

	e := &Engine{
		state:      newStorageState(options),
		path:       path,
		options:    options,
		blockCache: NewBlockCache(options.BlockCacheCapacity),
		controller: newCompactionController(options),
		logger:     options.Logger.With(logging.Component("lsm")),
		metrics:    options.Metrics,
	}
	e.nextID.Store(1)

	if err := e.recover(); err != nil {
		return nil, err
	}

	e.flushStop = make(chan struct{})
	e.wg.Add(1)
	go e.flushWorker()

	if options.Compaction.Strategy != CompactionNone {
		e.compactionStop = make(chan struct{})
		e.wg.Add(1)
		go e.compactionWorker()
	}

	e.logger.Info("engine opened",
		logging.Path(path),
		logging.String("compaction", string(options.Compaction.Strategy)),
		logging.Bool("wal", options.EnableWAL))
	return e, nil
}

// recover loads existing tables into L0 (newest id first) and replays
// write-ahead logs into immutable memtables so a later flush persists them.
// Ids resume above the highest id seen.
func (e *Engine) recover() error {
	entries, err := os.ReadDir(e.path)
	if err != nil {
		return opError("recover", err)
	}

	var sstIDs, walIDs []int
	maxID := 0
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".sst"):
			id, err := strconv.Atoi(strings.TrimSuffix(name, ".sst"))
			if err != nil {
				continue
			}
			sstIDs = append(sstIDs, id)
			if id > maxID {
				maxID = id
			}
		case strings.HasSuffix(name, ".wal"):
			id, err := strconv.Atoi(strings.TrimSuffix(name, ".wal"))
			if err != nil {
				continue
			}
			walIDs = append(walIDs, id)
			if id > maxID {
				maxID = id
			}
		}
	}

	// Newest first: higher ids always contain newer data, including
	// compaction outputs, whose inputs are gone from disk.
	sort.Sort(sort.Reverse(sort.IntSlice(sstIDs)))
	for _, id := range sstIDs {
		table, err := OpenSsTable(id, e.blockCache, e.pathOfSST(id))
		if err != nil {
			return err
		}
		e.state.l0SSTables = append(e.state.l0SSTables, id)
		e.state.sstables[id] = table
	}

	// Replay logs oldest first so immMemtables stays newest-first after
	// prepending each one.
	sort.Ints(walIDs)
	for _, id := range walIDs {
		// A log whose table already exists was flushed; only its removal
		// was lost
		if _, flushed := e.state.sstables[id]; flushed {
			os.Remove(e.pathOfWAL(id))
			continue
		}
		mt, err := RecoverMemTableFromWAL(id, e.pathOfWAL(id))
		if err != nil {
			return err
		}
		if mt.IsEmpty() {
			os.Remove(e.pathOfWAL(id))
			continue
		}
		e.state.immMemtables = append([]*MemTable{mt}, e.state.immMemtables...)
	}

	if maxID > 0 {
		e.nextID.Store(int64(maxID) + 1)
	}

	// The active memtable always gets a fresh id so its WAL never collides
	// with a replayed one.
	active, err := e.newMemTable()
	if err != nil {
		return err
	}
	e.state.memtable = active

	if len(sstIDs) > 0 || len(walIDs) > 0 {
		e.logger.Info("recovered state",
			logging.Count(len(sstIDs)),
			logging.Int("wal_memtables", len(walIDs)))
	}
	return nil
}

// newMemTable allocates a memtable with a fresh id, WAL-backed when enabled
func (e *Engine) newMemTable() (*MemTable, error) {
	id := e.nextSSTID()
	if e.options.EnableWAL {
		return NewMemTableWithWAL(id, e.pathOfWAL(id), e.options.CompressWAL)
	}
	return NewMemTable(id), nil
}

// nextSSTID allocates a globally unique id, shared between memtables and SSTs
func (e *Engine) nextSSTID() int {
	return int(e.nextID.Add(1)) - 1
}

func (e *Engine) pathOfSST(id int) string {
	return filepath.Join(e.path, fmt.Sprintf("%05d.sst", id))
}

func (e *Engine) pathOfWAL(id int) string {
	return filepath.Join(e.path, fmt.Sprintf("%05d.wal", id))
}

// readState clones the current state reference. Everything after the clone
// works on a consistent snapshot without holding any lock.
func (e *Engine) readState() *storageState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// setState publishes a new snapshot. Callers hold stateLock.
func (e *Engine) setState(state *storageState) {
	e.stateMu.Lock()
	e.state = state
	e.stateMu.Unlock()
}

// Put inserts or overwrites a key. When the active memtable crosses the
// size target the engine freezes it, re-checking the size under the state
// transition lock.
func (e *Engine) Put(key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(key) == 0 {
		return opError("Put", ErrEmptyKey)
	}

	snapshot := e.readState()
	if err := snapshot.memtable.Put(key, value); err != nil {
		return err
	}

	e.stats.WriteCount.Add(1)
	e.stats.BytesWritten.Add(int64(len(key) + len(value)))
	if e.metrics != nil {
		e.metrics.WritesTotal.Inc()
		e.metrics.MemTableBytes.Set(float64(snapshot.memtable.ApproximateSize()))
	}

	if snapshot.memtable.ApproximateSize() >= e.options.TargetSSTSize {
		e.stateLock.Lock()
		defer e.stateLock.Unlock()
		// A concurrent put may have frozen the memtable already
		if e.readState().memtable.ApproximateSize() >= e.options.TargetSSTSize {
			return e.forceFreezeMemTable()
		}
	}
	return nil
}

// Delete removes a key by writing a tombstone
func (e *Engine) Delete(key []byte) error {
	if e.metrics != nil {
		e.metrics.DeletesTotal.Inc()
	}
	return e.Put(key, nil)
}

// forceFreezeMemTable promotes the active memtable to the immutable list and
// installs a fresh one. Callers hold stateLock.
func (e *Engine) forceFreezeMemTable() error {
	memtable, err := e.newMemTable()
	if err != nil {
		return err
	}

	snapshot := e.readState()
	newState := snapshot.clone()
	newState.immMemtables = append([]*MemTable{newState.memtable}, newState.immMemtables...)
	newState.memtable = memtable
	e.setState(newState)

	// Stragglers racing this freeze complete into the now-immutable table;
	// flush its log buffer so nothing lingers in memory only
	if err := snapshot.memtable.SyncWAL(); err != nil {
		e.logger.Warn("syncing frozen wal failed",
			logging.MemTableID(snapshot.memtable.ID()), logging.Error(err))
	}

	e.logger.Debug("memtable frozen",
		logging.MemTableID(snapshot.memtable.ID()),
		logging.Bytes(snapshot.memtable.ApproximateSize()))
	if e.metrics != nil {
		e.metrics.ImmutableTables.Set(float64(len(newState.immMemtables)))
		e.metrics.MemTableBytes.Set(0)
	}
	return nil
}

// keyWithinTable reports whether key falls inside the table's key range
func keyWithinTable(key []byte, table *SsTable) bool {
	return bytes.Compare(table.FirstKey(), key) <= 0 && bytes.Compare(key, table.LastKey()) <= 0
}

// Get returns the value for key, walking memtables newest-first, then L0
// newest-first, then each deeper level's sorted run. A tombstone at any
// layer hides the key from everything below it.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrClosed
	}
	if len(key) == 0 {
		return nil, false, opError("Get", ErrEmptyKey)
	}

	e.stats.ReadCount.Add(1)
	if e.metrics != nil {
		e.metrics.ReadsTotal.Inc()
	}

	snapshot := e.readState()

	if value, ok := snapshot.memtable.Get(key); ok {
		return e.foundValue(value)
	}
	for _, imm := range snapshot.immMemtables {
		if value, ok := imm.Get(key); ok {
			return e.foundValue(value)
		}
	}

	// L0 ranges may overlap; merge and let source order decide
	l0Iters := make([]Iterator, 0, len(snapshot.l0SSTables))
	for _, id := range snapshot.l0SSTables {
		table := snapshot.sstables[id]
		if !keyWithinTable(key, table) || !table.MayContain(key) {
			continue
		}
		iter, err := NewSsTableIteratorAndSeekToKey(table, key)
		if err != nil {
			return nil, false, err
		}
		l0Iters = append(l0Iters, iter)
	}
	l0Merge := NewMergeIterator(l0Iters)
	if l0Merge.IsValid() && bytes.Equal(l0Merge.Key(), key) {
		return e.foundValue(l0Merge.Value())
	}

	// Each deeper level is a sorted run: at most one table can hold the key
	for _, run := range snapshot.levels {
		ids := run.ids
		idx := sort.Search(len(ids), func(i int) bool {
			return bytes.Compare(snapshot.sstables[ids[i]].LastKey(), key) >= 0
		})
		if idx >= len(ids) {
			continue
		}
		table := snapshot.sstables[ids[idx]]
		if !keyWithinTable(key, table) || !table.MayContain(key) {
			continue
		}
		iter, err := NewSsTableIteratorAndSeekToKey(table, key)
		if err != nil {
			return nil, false, err
		}
		if iter.IsValid() && bytes.Equal(iter.Key(), key) {
			return e.foundValue(iter.Value())
		}
	}

	return nil, false, nil
}

// foundValue maps a stored value to the user result, hiding tombstones
func (e *Engine) foundValue(value []byte) ([]byte, bool, error) {
	if len(value) == 0 {
		return nil, false, nil
	}
	e.stats.BytesRead.Add(int64(len(value)))
	return bytes.Clone(value), true, nil
}

// rangeOverlapsTable reports whether [lower, upper] intersects the table's
// key range
func rangeOverlapsTable(lower, upper Bound, table *SsTable) bool {
	switch lower.Kind {
	case BoundIncluded:
		if bytes.Compare(table.LastKey(), lower.Key) < 0 {
			return false
		}
	case BoundExcluded:
		if bytes.Compare(table.LastKey(), lower.Key) <= 0 {
			return false
		}
	}
	switch upper.Kind {
	case BoundIncluded:
		if bytes.Compare(upper.Key, table.FirstKey()) < 0 {
			return false
		}
	case BoundExcluded:
		if bytes.Compare(upper.Key, table.FirstKey()) <= 0 {
			return false
		}
	}
	return true
}

// seekTableIterator positions a table iterator at the scan's lower bound
func seekTableIterator(table *SsTable, lower Bound) (*SsTableIterator, error) {
	switch lower.Kind {
	case BoundIncluded:
		return NewSsTableIteratorAndSeekToKey(table, lower.Key)
	case BoundExcluded:
		iter, err := NewSsTableIteratorAndSeekToKey(table, lower.Key)
		if err != nil {
			return nil, err
		}
		if iter.IsValid() && bytes.Equal(iter.Key(), lower.Key) {
			if err := iter.Next(); err != nil {
				return nil, err
			}
		}
		return iter, nil
	default:
		return NewSsTableIteratorAndSeekToFirst(table)
	}
}

// Scan returns an iterator over the bound pair, fusing every layer:
// memtables win ties over L0, L0 wins over the deeper levels.
func (e *Engine) Scan(lower, upper Bound) (*FusedIterator, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	snapshot := e.readState()

	memIters := make([]Iterator, 0, len(snapshot.immMemtables)+1)
	memIters = append(memIters, snapshot.memtable.Scan(lower, upper))
	for _, imm := range snapshot.immMemtables {
		memIters = append(memIters, imm.Scan(lower, upper))
	}
	memMerge := NewMergeIterator(memIters)

	l0Iters := make([]Iterator, 0, len(snapshot.l0SSTables))
	for _, id := range snapshot.l0SSTables {
		table := snapshot.sstables[id]
		if !rangeOverlapsTable(lower, upper, table) {
			continue
		}
		iter, err := seekTableIterator(table, lower)
		if err != nil {
			return nil, err
		}
		l0Iters = append(l0Iters, iter)
	}
	l0Merge := NewMergeIterator(l0Iters)

	levelIters := make([]Iterator, 0, len(snapshot.levels))
	for _, run := range snapshot.levels {
		tables := make([]*SsTable, 0, len(run.ids))
		for _, id := range run.ids {
			table := snapshot.sstables[id]
			if rangeOverlapsTable(lower, upper, table) {
				tables = append(tables, table)
			}
		}
		var concat *SstConcatIterator
		var err error
		switch lower.Kind {
		case BoundIncluded, BoundExcluded:
			concat, err = NewSstConcatIteratorSeek(tables, lower.Key)
			if err == nil && lower.Kind == BoundExcluded &&
				concat.IsValid() && bytes.Equal(concat.Key(), lower.Key) {
				err = concat.Next()
			}
		default:
			concat, err = NewSstConcatIteratorFirst(tables)
		}
		if err != nil {
			return nil, err
		}
		levelIters = append(levelIters, concat)
	}

	memAndL0, err := NewTwoMergeIterator(memMerge, l0Merge)
	if err != nil {
		return nil, err
	}
	full, err := NewTwoMergeIterator(memAndL0, NewMergeIterator(levelIters))
	if err != nil {
		return nil, err
	}
	lsmIter, err := NewLsmIterator(full, upper)
	if err != nil {
		return nil, err
	}
	return NewFusedIterator(lsmIter), nil
}

// forceFlushNextImmMemtable flushes the oldest immutable memtable into an
// L0 table and publishes the new snapshot.
func (e *Engine) forceFlushNextImmMemtable() error {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()

	snapshot := e.readState()
	if len(snapshot.immMemtables) == 0 {
		return nil
	}
	memtable := snapshot.immMemtables[len(snapshot.immMemtables)-1]

	start := time.Now()
	builder := NewSsTableBuilder(e.options.BlockSize)
	if err := memtable.Flush(builder); err != nil {
		return err
	}
	table, err := builder.Build(memtable.ID(), e.blockCache, e.pathOfSST(memtable.ID()))
	if err != nil {
		return err
	}

	newState := snapshot.clone()
	newState.immMemtables = newState.immMemtables[:len(newState.immMemtables)-1]
	newState.l0SSTables = append([]int{memtable.ID()}, newState.l0SSTables...)
	newState.sstables[memtable.ID()] = table
	e.setState(newState)

	if err := memtable.RemoveWAL(); err != nil {
		e.logger.Warn("removing flushed wal failed",
			logging.MemTableID(memtable.ID()), logging.Error(err))
	}

	e.stats.FlushCount.Add(1)
	if e.metrics != nil {
		e.metrics.FlushesTotal.Inc()
		e.metrics.FlushDuration.Observe(time.Since(start).Seconds())
		e.metrics.ImmutableTables.Set(float64(len(newState.immMemtables)))
		e.metrics.Level0Tables.Set(float64(len(newState.l0SSTables)))
		e.metrics.TotalTables.Set(float64(newState.totalTableCount()))
	}
	e.logger.Debug("memtable flushed",
		logging.MemTableID(memtable.ID()),
		logging.Int64("table_bytes", table.TableSize()),
		logging.Latency(time.Since(start)))
	return nil
}

// ForceFlush freezes the active memtable when it holds data, then flushes
// every immutable memtable to L0.
func (e *Engine) ForceFlush() error {
	if e.closed.Load() {
		return ErrClosed
	}

	if !e.readState().memtable.IsEmpty() {
		e.stateLock.Lock()
		err := e.forceFreezeMemTable()
		e.stateLock.Unlock()
		if err != nil {
			return err
		}
	}
	for len(e.readState().immMemtables) > 0 {
		if err := e.forceFlushNextImmMemtable(); err != nil {
			return err
		}
	}
	return nil
}

// Sync fsyncs the active memtable's write-ahead log
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.readState().memtable.SyncWAL()
}

// Stats returns a point-in-time view of engine statistics
func (e *Engine) Stats() StatsSnapshot {
	snapshot := e.readState()
	return StatsSnapshot{
		WriteCount:       e.stats.WriteCount.Load(),
		ReadCount:        e.stats.ReadCount.Load(),
		FlushCount:       e.stats.FlushCount.Load(),
		CompactionCount:  e.stats.CompactionCount.Load(),
		BytesWritten:     e.stats.BytesWritten.Load(),
		BytesRead:        e.stats.BytesRead.Load(),
		MemTableSize:     snapshot.memtable.ApproximateSize(),
		ImmutableCount:   len(snapshot.immMemtables),
		Level0TableCount: len(snapshot.l0SSTables),
		TotalTableCount:  snapshot.totalTableCount(),
	}
}

// Close stops the background threads, persists in-memory data and releases
// every table handle. With WAL enabled the memtables are made durable by
// their logs; without it they are flushed to L0.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(e.flushStop)
	if e.compactionStop != nil {
		close(e.compactionStop)
	}
	e.wg.Wait()

	if e.options.EnableWAL {
		snapshot := e.readState()
		if err := snapshot.memtable.SyncWAL(); err != nil {
			return err
		}
		if err := snapshot.memtable.CloseWAL(); err != nil {
			return err
		}
		for _, imm := range snapshot.immMemtables {
			if err := imm.SyncWAL(); err != nil {
				return err
			}
			if err := imm.CloseWAL(); err != nil {
				return err
			}
		}
	} else {
		if !e.readState().memtable.IsEmpty() {
			e.stateLock.Lock()
			err := e.forceFreezeMemTable()
			e.stateLock.Unlock()
			if err != nil {
				return err
			}
		}
		for len(e.readState().immMemtables) > 0 {
			if err := e.forceFlushNextImmMemtable(); err != nil {
				return err
			}
		}
	}

	snapshot := e.readState()
	for _, table := range snapshot.sstables {
		if err := table.Close(); err != nil {
			e.logger.Warn("closing table failed",
				logging.TableID(table.ID()), logging.Error(err))
		}
	}

	e.logger.Info("engine closed", logging.Path(e.path))
	return nil
}
