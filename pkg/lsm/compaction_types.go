package lsm

// CompactionTask describes which tables to merge and where the output lands
type CompactionTask interface {
	// CompactToBottomLevel reports whether the task's output level is the
	// bottom of the tree, in which case tombstones are dropped for good
	CompactToBottomLevel() bool
}

// ForceFullCompactionTask merges all of L0 and L1 into a fresh L1 run
type ForceFullCompactionTask struct {
	L0SSTables []int
	L1SSTables []int
}

// CompactToBottomLevel is always true for a full compaction into L1
func (t *ForceFullCompactionTask) CompactToBottomLevel() bool {
	return true
}

// SimpleLeveledCompactionTask merges one level (or L0) into the level below
type SimpleLeveledCompactionTask struct {
	// UpperLevel is the source level; 0 means L0
	UpperLevel       int
	UpperLevelSSTIDs []int
	// LowerLevel is the destination level
	LowerLevel       int
	LowerLevelSSTIDs []int
	// IsLowerLevelBottomLevel marks compactions into the deepest level
	IsLowerLevelBottomLevel bool
}

// CompactToBottomLevel reports whether the destination is the deepest level
func (t *SimpleLeveledCompactionTask) CompactToBottomLevel() bool {
	return t.IsLowerLevelBottomLevel
}

// CompactionController decides when to compact and how results reshape the
// state. Implementations must tolerate the L0 list growing while a task is
// in flight: removals go by id-set difference, never by truncation.
type CompactionController interface {
	// GenerateTask inspects a snapshot and returns the next task, or nil
	GenerateTask(snapshot *storageState) CompactionTask
	// ApplyResult folds a finished task into a snapshot, returning the new
	// snapshot and the ids whose files are now obsolete
	ApplyResult(snapshot *storageState, task CompactionTask, output []int) (*storageState, []int)
	// FlushToL0 reports whether memtable flushes land in L0
	FlushToL0() bool
}

// noCompactionController never schedules work
type noCompactionController struct{}

func (noCompactionController) GenerateTask(*storageState) CompactionTask {
	return nil
}

func (noCompactionController) ApplyResult(snapshot *storageState, _ CompactionTask, _ []int) (*storageState, []int) {
	return snapshot.clone(), nil
}

func (noCompactionController) FlushToL0() bool {
	return true
}

// newCompactionController builds the controller for the configured strategy
func newCompactionController(opts Options) CompactionController {
	switch opts.Compaction.Strategy {
	case CompactionSimple:
		return NewSimpleLeveledCompactionController(*opts.Compaction.Simple)
	default:
		return noCompactionController{}
	}
}
