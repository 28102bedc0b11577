package lsm

import (
	"os"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

// buildTablesFromIterator streams a merged iterator into table builders,
// sealing a table whenever its data region reaches the target size. With
// dropTombstones set, deletion markers are filtered out instead of written.
func (e *Engine) buildTablesFromIterator(iter Iterator, dropTombstones bool) ([]*SsTable, error) {
	var tables []*SsTable
	var builder *SsTableBuilder

	for iter.IsValid() {
		if dropTombstones && len(iter.Value()) == 0 {
			if err := iter.Next(); err != nil {
				return nil, err
			}
			continue
		}
		if builder == nil {
			builder = NewSsTableBuilder(e.options.BlockSize)
		}
		if err := builder.Add(iter.Key(), iter.Value()); err != nil {
			return nil, err
		}
		if builder.EstimatedSize() >= e.options.TargetSSTSize {
			id := e.nextSSTID()
			table, err := builder.Build(id, e.blockCache, e.pathOfSST(id))
			if err != nil {
				return nil, err
			}
			tables = append(tables, table)
			builder = nil
		}
		if err := iter.Next(); err != nil {
			return nil, err
		}
	}

	if builder != nil && !builder.IsEmpty() {
		id := e.nextSSTID()
		table, err := builder.Build(id, e.blockCache, e.pathOfSST(id))
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// compact executes a task against the current snapshot and returns the new
// tables. It holds no lock: the task pins the input ids and the snapshot
// pins the table handles.
func (e *Engine) compact(task CompactionTask) ([]*SsTable, error) {
	snapshot := e.readState()

	switch t := task.(type) {
	case *ForceFullCompactionTask:
		l0Iters := make([]Iterator, 0, len(t.L0SSTables))
		for _, id := range t.L0SSTables {
			table, ok := snapshot.sstables[id]
			if !ok {
				return nil, tableError("compact", id, ErrTableNotFound)
			}
			iter, err := NewSsTableIteratorAndSeekToFirst(table)
			if err != nil {
				return nil, err
			}
			l0Iters = append(l0Iters, iter)
		}

		l1Tables := make([]*SsTable, 0, len(t.L1SSTables))
		for _, id := range t.L1SSTables {
			table, ok := snapshot.sstables[id]
			if !ok {
				return nil, tableError("compact", id, ErrTableNotFound)
			}
			l1Tables = append(l1Tables, table)
		}
		concat, err := NewSstConcatIteratorFirst(l1Tables)
		if err != nil {
			return nil, err
		}

		merged, err := NewTwoMergeIterator(NewMergeIterator(l0Iters), concat)
		if err != nil {
			return nil, err
		}
		return e.buildTablesFromIterator(merged, true)

	case *SimpleLeveledCompactionTask:
		// One N-way merge: upper sources first so they shadow the lower
		// run on equal keys. Within each run ties cannot happen.
		iters := make([]Iterator, 0, len(t.UpperLevelSSTIDs)+len(t.LowerLevelSSTIDs))
		for _, id := range t.UpperLevelSSTIDs {
			table, ok := snapshot.sstables[id]
			if !ok {
				return nil, tableError("compact", id, ErrTableNotFound)
			}
			iter, err := NewSsTableIteratorAndSeekToFirst(table)
			if err != nil {
				return nil, err
			}
			iters = append(iters, iter)
		}
		for _, id := range t.LowerLevelSSTIDs {
			table, ok := snapshot.sstables[id]
			if !ok {
				return nil, tableError("compact", id, ErrTableNotFound)
			}
			iter, err := NewSsTableIteratorAndSeekToFirst(table)
			if err != nil {
				return nil, err
			}
			iters = append(iters, iter)
		}
		return e.buildTablesFromIterator(NewMergeIterator(iters), t.CompactToBottomLevel())

	default:
		return nil, opError("compact", ErrInvariantViolated)
	}
}

// ForceFullCompaction merges every L0 and L1 table into a fresh L1 run.
// L0 tables flushed while the merge runs are preserved.
func (e *Engine) ForceFullCompaction() error {
	if e.closed.Load() {
		return ErrClosed
	}

	snapshot := e.readState()
	task := &ForceFullCompactionTask{
		L0SSTables: append([]int(nil), snapshot.l0SSTables...),
		L1SSTables: append([]int(nil), snapshot.levels[0].ids...),
	}

	start := time.Now()
	newTables, err := e.compact(task)
	if err != nil {
		return err
	}
	newIDs := make([]int, 0, len(newTables))
	for _, table := range newTables {
		newIDs = append(newIDs, table.ID())
	}

	compacted := make(map[int]struct{}, len(task.L0SSTables))
	for _, id := range task.L0SSTables {
		compacted[id] = struct{}{}
	}

	e.stateLock.Lock()
	current := e.readState()
	newState := current.clone()
	for _, id := range task.L0SSTables {
		delete(newState.sstables, id)
	}
	for _, id := range task.L1SSTables {
		delete(newState.sstables, id)
	}
	kept := newState.l0SSTables[:0]
	for _, id := range newState.l0SSTables {
		if _, ok := compacted[id]; !ok {
			kept = append(kept, id)
		}
	}
	newState.l0SSTables = kept
	newState.levels[0].ids = newIDs
	for _, table := range newTables {
		newState.sstables[table.ID()] = table
	}
	e.setState(newState)
	e.stateLock.Unlock()

	obsolete := append(append([]int(nil), task.L0SSTables...), task.L1SSTables...)
	e.removeTableFiles(obsolete)

	e.stats.CompactionCount.Add(1)
	if e.metrics != nil {
		e.metrics.CompactionsTotal.Inc()
		e.metrics.CompactionDuration.Observe(time.Since(start).Seconds())
		e.metrics.Level0Tables.Set(float64(len(newState.l0SSTables)))
		e.metrics.TotalTables.Set(float64(newState.totalTableCount()))
	}
	e.logger.Info("full compaction finished",
		logging.Count(len(obsolete)),
		logging.Int("new_tables", len(newIDs)),
		logging.Latency(time.Since(start)))
	return nil
}

// runScheduledCompaction asks the controller for a task, executes it and
// folds the result into the state. At most one task runs per call.
func (e *Engine) runScheduledCompaction() error {
	task := e.controller.GenerateTask(e.readState())
	if task == nil {
		return nil
	}

	start := time.Now()
	newTables, err := e.compact(task)
	if err != nil {
		return err
	}
	output := make([]int, 0, len(newTables))
	for _, table := range newTables {
		output = append(output, table.ID())
	}

	e.stateLock.Lock()
	newState, obsolete := e.controller.ApplyResult(e.readState(), task, output)
	for _, table := range newTables {
		newState.sstables[table.ID()] = table
	}
	for _, id := range obsolete {
		delete(newState.sstables, id)
	}
	e.setState(newState)
	e.stateLock.Unlock()

	e.removeTableFiles(obsolete)

	e.stats.CompactionCount.Add(1)
	if e.metrics != nil {
		e.metrics.CompactionsTotal.Inc()
		e.metrics.CompactionDuration.Observe(time.Since(start).Seconds())
		e.metrics.Level0Tables.Set(float64(len(newState.l0SSTables)))
		e.metrics.TotalTables.Set(float64(newState.totalTableCount()))
	}
	e.logger.Debug("compaction finished",
		logging.Count(len(obsolete)),
		logging.Int("new_tables", len(output)),
		logging.Latency(time.Since(start)))
	return nil
}

// removeTableFiles unlinks replaced table files and their filter sidecars,
// and drops their cached blocks. Readers still holding the old snapshot keep
// reading through their open handles; the unlink only hides the files.
func (e *Engine) removeTableFiles(ids []int) {
	for _, id := range ids {
		e.blockCache.DropTable(id)
		if err := os.Remove(e.pathOfSST(id)); err != nil {
			e.logger.Warn("removing table file failed",
				logging.TableID(id), logging.Error(err))
		}
		if err := os.Remove(filterPathOf(e.pathOfSST(id))); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("removing filter sidecar failed",
				logging.TableID(id), logging.Error(err))
		}
	}
}
