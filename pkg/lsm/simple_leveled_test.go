package lsm

import (
	"fmt"
	"testing"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

func testController(trigger, ratio, maxLevels int) *SimpleLeveledCompactionController {
	return NewSimpleLeveledCompactionController(SimpleLeveledCompactionOptions{
		SizeRatioPercent:               ratio,
		Level0FileNumCompactionTrigger: trigger,
		MaxLevels:                      maxLevels,
	})
}

func stateWithLevels(l0 []int, levels ...[]int) *storageState {
	s := &storageState{
		memtable: NewMemTable(0),
		sstables: make(map[int]*SsTable),
	}
	s.l0SSTables = l0
	for i, ids := range levels {
		s.levels = append(s.levels, levelRun{level: i + 1, ids: ids})
	}
	return s
}

// TestSimpleLeveled_L0Trigger verifies the L0 file count trigger
func TestSimpleLeveled_L0Trigger(t *testing.T) {
	c := testController(2, 200, 3)

	if task := c.GenerateTask(stateWithLevels([]int{5}, nil, nil, nil)); task != nil {
		t.Error("One L0 file must not trigger")
	}

	task := c.GenerateTask(stateWithLevels([]int{6, 5}, []int{1, 2}, nil, nil))
	if task == nil {
		t.Fatal("Two L0 files must trigger")
	}
	simple := task.(*SimpleLeveledCompactionTask)
	if simple.UpperLevel != 0 || simple.LowerLevel != 1 {
		t.Errorf("Expected L0 -> L1 task, got %d -> %d", simple.UpperLevel, simple.LowerLevel)
	}
	if len(simple.UpperLevelSSTIDs) != 2 || len(simple.LowerLevelSSTIDs) != 2 {
		t.Errorf("Task ids wrong: %v / %v", simple.UpperLevelSSTIDs, simple.LowerLevelSSTIDs)
	}
	if simple.IsLowerLevelBottomLevel {
		t.Error("L1 is not the bottom of a 3-level tree")
	}
}

// TestSimpleLeveled_SizeRatioTrigger verifies the count-ratio trigger
// between adjacent levels
func TestSimpleLeveled_SizeRatioTrigger(t *testing.T) {
	c := testController(10, 200, 3)

	// L2/L1 = 1/2 = 50% < 200%: compact L1 into L2
	task := c.GenerateTask(stateWithLevels(nil, []int{1, 2}, []int{3}, nil))
	if task == nil {
		t.Fatal("Expected a ratio-triggered task")
	}
	simple := task.(*SimpleLeveledCompactionTask)
	if simple.UpperLevel != 1 || simple.LowerLevel != 2 {
		t.Errorf("Expected L1 -> L2 task, got %d -> %d", simple.UpperLevel, simple.LowerLevel)
	}

	// L2/L1 = 4/2 = 200%: in shape, no task
	if task := c.GenerateTask(stateWithLevels(nil, []int{1, 2}, []int{3, 4, 5, 6}, []int{7, 8, 9, 10, 11, 12, 13, 14})); task != nil {
		t.Errorf("Balanced tree must not trigger, got %+v", task)
	}

	// An empty upper level never triggers
	if task := c.GenerateTask(stateWithLevels(nil, nil, []int{3}, nil)); task != nil {
		t.Error("Empty upper level must not trigger")
	}
}

// TestSimpleLeveled_ApplyResult verifies the id bookkeeping, including L0
// files that appeared while the task ran
func TestSimpleLeveled_ApplyResult(t *testing.T) {
	c := testController(2, 200, 3)

	snapshot := stateWithLevels([]int{6, 5}, []int{1, 2}, nil, nil)
	task := c.GenerateTask(snapshot)
	if task == nil {
		t.Fatal("Expected a task")
	}

	// A flush lands table 7 in L0 mid-compaction
	grown := stateWithLevels([]int{7, 6, 5}, []int{1, 2}, nil, nil)

	newState, obsolete := c.ApplyResult(grown, task, []int{8, 9})
	if len(newState.l0SSTables) != 1 || newState.l0SSTables[0] != 7 {
		t.Errorf("Expected the mid-compaction flush to survive, got %v", newState.l0SSTables)
	}
	if got := newState.levels[0].ids; len(got) != 2 || got[0] != 8 || got[1] != 9 {
		t.Errorf("Expected L1 = [8 9], got %v", got)
	}
	if len(obsolete) != 4 {
		t.Errorf("Expected 4 obsolete ids, got %v", obsolete)
	}
}

// TestSimpleLeveled_EndToEnd drives the scheduled compaction path directly
// and verifies the tree converges with no key lost
func TestSimpleLeveled_EndToEnd(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = logging.NewNopLogger()
	opts.TargetSSTSize = 1 << 20
	opts.Compaction = CompactionOptions{
		Strategy: CompactionSimple,
		Simple: &SimpleLeveledCompactionOptions{
			SizeRatioPercent:               200,
			Level0FileNumCompactionTrigger: 2,
			MaxLevels:                      3,
		},
	}
	e, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer e.Close()

	// Build up several L0 tables, compacting between rounds
	for round := 0; round < 4; round++ {
		for i := 0; i < 50; i++ {
			key := fmt.Sprintf("key%03d", i)
			value := fmt.Sprintf("round%d-%03d", round, i)
			if err := e.Put([]byte(key), []byte(value)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		if err := e.ForceFlush(); err != nil {
			t.Fatalf("ForceFlush failed: %v", err)
		}
		if err := e.runScheduledCompaction(); err != nil {
			t.Fatalf("runScheduledCompaction failed: %v", err)
		}
	}

	// Every key must carry the last round's value regardless of where
	// compaction moved it
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key%03d", i)
		want := fmt.Sprintf("round3-%03d", i)
		if got := mustGet(t, e, key); got != want {
			t.Errorf("Get(%s): expected %q, got %q", key, want, got)
		}
	}

	// Deletions propagate through scheduled compactions too
	e.Delete([]byte("key010"))
	if err := e.ForceFlush(); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := e.runScheduledCompaction(); err != nil {
			t.Fatalf("runScheduledCompaction failed: %v", err)
		}
	}
	mustMiss(t, e, "key010")
}
