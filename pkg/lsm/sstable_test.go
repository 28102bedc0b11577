package lsm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// buildTestSST writes the given pairs into a table file under dir
func buildTestSST(t *testing.T, dir string, id int, pairs [][2]string, blockSize int) *SsTable {
	t.Helper()
	builder := NewSsTableBuilder(blockSize)
	for _, pair := range pairs {
		if err := builder.Add([]byte(pair[0]), []byte(pair[1])); err != nil {
			t.Fatalf("Add(%q) failed: %v", pair[0], err)
		}
	}
	table, err := builder.Build(id, nil, filepath.Join(dir, fmt.Sprintf("%05d.sst", id)))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return table
}

// manyPairs generates n sorted key-value pairs
func manyPairs(n int) [][2]string {
	pairs := make([][2]string, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, [2]string{
			fmt.Sprintf("key%05d", i),
			fmt.Sprintf("value%05d", i),
		})
	}
	return pairs
}

// TestSsTable_BuildAndOpen verifies a built table reopens with the same
// meta, keys and filter
func TestSsTable_BuildAndOpen(t *testing.T) {
	dir := t.TempDir()
	pairs := manyPairs(500)
	table := buildTestSST(t, dir, 1, pairs, 256)

	if table.NumBlocks() < 2 {
		t.Fatalf("Expected multiple blocks, got %d", table.NumBlocks())
	}
	if !bytes.Equal(table.FirstKey(), []byte("key00000")) {
		t.Errorf("Expected first key key00000, got %q", table.FirstKey())
	}
	if !bytes.Equal(table.LastKey(), []byte("key00499")) {
		t.Errorf("Expected last key key00499, got %q", table.LastKey())
	}
	table.Close()

	reopened, err := OpenSsTable(1, nil, filepath.Join(dir, "00001.sst"))
	if err != nil {
		t.Fatalf("OpenSsTable failed: %v", err)
	}
	defer reopened.Close()

	if reopened.NumBlocks() != table.NumBlocks() {
		t.Errorf("Expected %d blocks after reopen, got %d", table.NumBlocks(), reopened.NumBlocks())
	}
	if !bytes.Equal(reopened.FirstKey(), table.FirstKey()) {
		t.Errorf("First key changed across reopen")
	}
	if reopened.filter == nil {
		t.Error("Expected the sidecar filter to load")
	}

	it, err := NewSsTableIteratorAndSeekToFirst(reopened)
	if err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	got := collect(t, it)
	expectPairs(t, got, pairs)
}

// TestSsTable_IteratorSeekAcrossBlocks verifies seeking lands on the right
// entry even when the key sits on a block boundary
func TestSsTable_IteratorSeekAcrossBlocks(t *testing.T) {
	dir := t.TempDir()
	pairs := manyPairs(300)
	table := buildTestSST(t, dir, 1, pairs, 128)
	defer table.Close()

	for _, probe := range []int{0, 1, 50, 137, 298, 299} {
		key := fmt.Sprintf("key%05d", probe)
		it, err := NewSsTableIteratorAndSeekToKey(table, []byte(key))
		if err != nil {
			t.Fatalf("Seek(%s) failed: %v", key, err)
		}
		if !it.IsValid() || string(it.Key()) != key {
			t.Errorf("Seek(%s): landed on %q", key, it.Key())
		}
	}

	// Between keys: lands on the next one
	it, err := NewSsTableIteratorAndSeekToKey(table, []byte("key00137a"))
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if !it.IsValid() || string(it.Key()) != "key00138" {
		t.Errorf("Expected key00138, landed on %q", it.Key())
	}

	// Past the end: invalid
	it, err = NewSsTableIteratorAndSeekToKey(table, []byte("zzz"))
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if it.IsValid() {
		t.Errorf("Seek past the end must be invalid, landed on %q", it.Key())
	}
}

// TestSsTable_FirstKeySurvivesBlockSplits verifies the table's first key is
// recorded from the very first block even after many splits
func TestSsTable_FirstKeySurvivesBlockSplits(t *testing.T) {
	builder := NewSsTableBuilder(64)
	pairs := manyPairs(100)
	for _, pair := range pairs {
		if err := builder.Add([]byte(pair[0]), []byte(pair[1])); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	table, err := builder.Build(7, nil, filepath.Join(t.TempDir(), "00007.sst"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer table.Close()

	if !bytes.Equal(table.FirstKey(), []byte("key00000")) {
		t.Errorf("Expected first key key00000, got %q", table.FirstKey())
	}
}

// TestSsTableBuilder_RejectsOutOfOrderKeys verifies the ordering invariant
func TestSsTableBuilder_RejectsOutOfOrderKeys(t *testing.T) {
	builder := NewSsTableBuilder(4096)
	if err := builder.Add([]byte("b"), []byte("1")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := builder.Add([]byte("a"), []byte("2")); err == nil {
		t.Error("Expected out-of-order Add to fail")
	}
	if err := builder.Add([]byte("b"), []byte("2")); err == nil {
		t.Error("Expected duplicate Add to fail")
	}
}

// TestSsTable_BlockCacheSharing verifies repeated reads come from the cache
func TestSsTable_BlockCacheSharing(t *testing.T) {
	dir := t.TempDir()
	cache := NewBlockCache(16)

	builder := NewSsTableBuilder(256)
	for _, pair := range manyPairs(100) {
		if err := builder.Add([]byte(pair[0]), []byte(pair[1])); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	table, err := builder.Build(3, cache, filepath.Join(dir, "00003.sst"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer table.Close()

	if _, err := table.ReadBlockCached(0); err != nil {
		t.Fatalf("ReadBlockCached failed: %v", err)
	}
	if _, err := table.ReadBlockCached(0); err != nil {
		t.Fatalf("ReadBlockCached failed: %v", err)
	}
	hits, _, _ := cache.Stats()
	if hits == 0 {
		t.Error("Expected at least one cache hit")
	}
}

// TestOpenSsTable_Corruption verifies structural checks on open
func TestOpenSsTable_Corruption(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "00008.sst")
	if err := os.WriteFile(short, []byte{0x01, 0x02}, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := OpenSsTable(8, nil, short); err == nil {
		t.Error("Expected error for truncated table file")
	}

	// Footer points past the end of the file
	bogus := filepath.Join(dir, "00009.sst")
	data := []byte{0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff}
	if err := os.WriteFile(bogus, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := OpenSsTable(9, nil, bogus); err == nil {
		t.Error("Expected error for out-of-range meta offset")
	}
}

// TestSstConcatIterator verifies lazy iteration and seeking over a sorted run
func TestSstConcatIterator(t *testing.T) {
	dir := t.TempDir()
	t1 := buildTestSST(t, dir, 1, [][2]string{{"a", "1"}, {"b", "2"}}, 4096)
	t2 := buildTestSST(t, dir, 2, [][2]string{{"c", "3"}, {"d", "4"}}, 4096)
	t3 := buildTestSST(t, dir, 3, [][2]string{{"e", "5"}}, 4096)
	defer t1.Close()
	defer t2.Close()
	defer t3.Close()
	run := []*SsTable{t1, t2, t3}

	it, err := NewSstConcatIteratorFirst(run)
	if err != nil {
		t.Fatalf("NewSstConcatIteratorFirst failed: %v", err)
	}
	expectPairs(t, collect(t, it), [][2]string{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"},
	})

	it, err = NewSstConcatIteratorSeek(run, []byte("c"))
	if err != nil {
		t.Fatalf("NewSstConcatIteratorSeek failed: %v", err)
	}
	expectPairs(t, collect(t, it), [][2]string{{"c", "3"}, {"d", "4"}, {"e", "5"}})

	// Between tables: lands on the next table's first entry
	it, err = NewSstConcatIteratorSeek(run, []byte("bb"))
	if err != nil {
		t.Fatalf("NewSstConcatIteratorSeek failed: %v", err)
	}
	if !it.IsValid() || string(it.Key()) != "c" {
		t.Errorf("Expected to land on c, got %q", it.Key())
	}

	// Past the run: invalid
	it, err = NewSstConcatIteratorSeek(run, []byte("z"))
	if err != nil {
		t.Fatalf("NewSstConcatIteratorSeek failed: %v", err)
	}
	if it.IsValid() {
		t.Error("Seek past the run must be invalid")
	}
}

// TestSsTable_FilterSkipsAbsentKeys spot-checks the bloom sidecar
func TestSsTable_FilterSkipsAbsentKeys(t *testing.T) {
	dir := t.TempDir()
	table := buildTestSST(t, dir, 1, manyPairs(1000), 4096)
	defer table.Close()

	if !table.MayContain([]byte("key00500")) {
		t.Error("Filter must admit a present key")
	}
	misses := 0
	for i := 0; i < 100; i++ {
		if !table.MayContain([]byte(fmt.Sprintf("absent%05d", i))) {
			misses++
		}
	}
	if misses < 90 {
		t.Errorf("Filter rejected only %d/100 absent keys", misses)
	}
}
