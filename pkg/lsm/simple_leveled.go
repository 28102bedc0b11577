package lsm

// SimpleLeveledCompactionController triggers on L0 file count and on the
// count ratio between adjacent levels. The ratio deliberately compares file
// counts rather than bytes, keeping trigger decisions deterministic.
type SimpleLeveledCompactionController struct {
	options SimpleLeveledCompactionOptions
}

// NewSimpleLeveledCompactionController creates a controller with the given options
func NewSimpleLeveledCompactionController(options SimpleLeveledCompactionOptions) *SimpleLeveledCompactionController {
	return &SimpleLeveledCompactionController{options: options}
}

// GenerateTask returns the next compaction task, or nil when the tree is in
// shape. L0 pressure wins over level ratios.
func (c *SimpleLeveledCompactionController) GenerateTask(snapshot *storageState) CompactionTask {
	if len(snapshot.l0SSTables) >= c.options.Level0FileNumCompactionTrigger {
		upper := make([]int, len(snapshot.l0SSTables))
		copy(upper, snapshot.l0SSTables)
		lower := make([]int, len(snapshot.levels[0].ids))
		copy(lower, snapshot.levels[0].ids)
		return &SimpleLeveledCompactionTask{
			UpperLevel:              0,
			UpperLevelSSTIDs:        upper,
			LowerLevel:              1,
			LowerLevelSSTIDs:        lower,
			IsLowerLevelBottomLevel: len(snapshot.levels) == 1,
		}
	}

	for i := 1; i < len(snapshot.levels); i++ {
		upperIDs := snapshot.levels[i-1].ids
		lowerIDs := snapshot.levels[i].ids
		if len(upperIDs) == 0 {
			continue
		}
		if len(lowerIDs)*100 < c.options.SizeRatioPercent*len(upperIDs) {
			upper := make([]int, len(upperIDs))
			copy(upper, upperIDs)
			lower := make([]int, len(lowerIDs))
			copy(lower, lowerIDs)
			return &SimpleLeveledCompactionTask{
				UpperLevel:              i,
				UpperLevelSSTIDs:        upper,
				LowerLevel:              i + 1,
				LowerLevelSSTIDs:        lower,
				IsLowerLevelBottomLevel: i+1 == len(snapshot.levels),
			}
		}
	}
	return nil
}

// ApplyResult removes the task's upper ids (by id-set difference, so L0
// tables flushed mid-compaction survive), replaces the lower level with the
// output run, and reports every replaced id as obsolete.
func (c *SimpleLeveledCompactionController) ApplyResult(snapshot *storageState, task CompactionTask, output []int) (*storageState, []int) {
	simple := task.(*SimpleLeveledCompactionTask)
	newState := snapshot.clone()

	upperSet := make(map[int]struct{}, len(simple.UpperLevelSSTIDs))
	for _, id := range simple.UpperLevelSSTIDs {
		upperSet[id] = struct{}{}
	}

	if simple.UpperLevel == 0 {
		kept := newState.l0SSTables[:0]
		for _, id := range newState.l0SSTables {
			if _, ok := upperSet[id]; !ok {
				kept = append(kept, id)
			}
		}
		newState.l0SSTables = kept
	} else {
		kept := newState.levels[simple.UpperLevel-1].ids[:0]
		for _, id := range newState.levels[simple.UpperLevel-1].ids {
			if _, ok := upperSet[id]; !ok {
				kept = append(kept, id)
			}
		}
		newState.levels[simple.UpperLevel-1].ids = kept
	}

	newState.levels[simple.LowerLevel-1].ids = append([]int(nil), output...)

	obsolete := make([]int, 0, len(simple.UpperLevelSSTIDs)+len(simple.LowerLevelSSTIDs))
	obsolete = append(obsolete, simple.UpperLevelSSTIDs...)
	obsolete = append(obsolete, simple.LowerLevelSSTIDs...)
	return newState, obsolete
}

// FlushToL0 is true: simple leveled compaction reads new tables from L0
func (c *SimpleLeveledCompactionController) FlushToL0() bool {
	return true
}
