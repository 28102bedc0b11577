package lsm

// levelRun is one level of the tree: for level >= 1 the ids form a single
// sorted run with disjoint, increasing key ranges.
type levelRun struct {
	level int
	ids   []int
}

// storageState is an immutable snapshot of the engine's table set. Writers
// build a new snapshot in private and swap the shared reference atomically;
// readers keep using the snapshot they grabbed for the whole operation.
type storageState struct {
	// memtable is the single active write buffer
	memtable *MemTable
	// immMemtables holds frozen memtables, newest first
	immMemtables []*MemTable
	// l0SSTables holds L0 table ids, newest first; ranges may overlap
	l0SSTables []int
	// levels holds L1..Lmax sorted runs
	levels []levelRun
	// sstables maps every live id (L0 and levels) to its open table
	sstables map[int]*SsTable
}

// newStorageState creates the initial state for the given options
func newStorageState(opts Options) *storageState {
	numLevels := 1
	if opts.Compaction.Strategy == CompactionSimple && opts.Compaction.Simple != nil {
		numLevels = opts.Compaction.Simple.MaxLevels
	}
	levels := make([]levelRun, 0, numLevels)
	for i := 1; i <= numLevels; i++ {
		levels = append(levels, levelRun{level: i})
	}
	return &storageState{
		memtable: NewMemTable(0),
		levels:   levels,
		sstables: make(map[int]*SsTable),
	}
}

// clone returns a snapshot copy whose slices and table map can be mutated
// without touching the published state
func (s *storageState) clone() *storageState {
	imm := make([]*MemTable, len(s.immMemtables))
	copy(imm, s.immMemtables)

	l0 := make([]int, len(s.l0SSTables))
	copy(l0, s.l0SSTables)

	levels := make([]levelRun, len(s.levels))
	for i, run := range s.levels {
		ids := make([]int, len(run.ids))
		copy(ids, run.ids)
		levels[i] = levelRun{level: run.level, ids: ids}
	}

	sstables := make(map[int]*SsTable, len(s.sstables))
	for id, table := range s.sstables {
		sstables[id] = table
	}

	return &storageState{
		memtable:     s.memtable,
		immMemtables: imm,
		l0SSTables:   l0,
		levels:       levels,
		sstables:     sstables,
	}
}

// totalTableCount counts live SSTs across L0 and every level
func (s *storageState) totalTableCount() int {
	return len(s.sstables)
}
