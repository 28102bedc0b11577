package lsm

import (
	"os"
	"path/filepath"
	"testing"
)

// replayAll collects every recovered record
func replayAll(t *testing.T, path string) [][2]string {
	t.Helper()
	var out [][2]string
	err := ReplayWAL(path, func(key, value []byte) {
		out = append(out, [2]string{string(key), string(value)})
	})
	if err != nil {
		t.Fatalf("ReplayWAL failed: %v", err)
	}
	return out
}

// TestWAL_AppendAndReplay verifies records come back in append order
func TestWAL_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00001.wal")
	wal, err := NewWAL(path, false)
	if err != nil {
		t.Fatalf("NewWAL failed: %v", err)
	}
	wal.Append([]byte("a"), []byte("1"))
	wal.Append([]byte("b"), nil)
	wal.Append([]byte("a"), []byte("2"))
	if err := wal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	expectPairs(t, replayAll(t, path), [][2]string{
		{"a", "1"}, {"b", ""}, {"a", "2"},
	})
}

// TestWAL_CompressedRoundTrip verifies snappy-framed records replay the same
func TestWAL_CompressedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00002.wal")
	wal, err := NewWAL(path, true)
	if err != nil {
		t.Fatalf("NewWAL failed: %v", err)
	}
	long := make([]byte, 1024)
	for i := range long {
		long[i] = 'x'
	}
	wal.Append([]byte("big"), long)
	wal.Append([]byte("small"), []byte("v"))
	if err := wal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := replayAll(t, path)
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0][0] != "big" || len(got[0][1]) != 1024 {
		t.Errorf("First record mangled: key %q, %d value bytes", got[0][0], len(got[0][1]))
	}
}

// TestWAL_TornTailStopsReplay verifies a truncated final record is dropped
// without failing the replay
func TestWAL_TornTailStopsReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00003.wal")
	wal, err := NewWAL(path, false)
	if err != nil {
		t.Fatalf("NewWAL failed: %v", err)
	}
	wal.Append([]byte("ok"), []byte("1"))
	wal.Append([]byte("torn"), []byte("2"))
	if err := wal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	expectPairs(t, replayAll(t, path), [][2]string{{"ok", "1"}})
}

// TestWAL_CorruptRecordStopsReplay verifies a crc mismatch ends the replay
func TestWAL_CorruptRecordStopsReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00004.wal")
	wal, err := NewWAL(path, false)
	if err != nil {
		t.Fatalf("NewWAL failed: %v", err)
	}
	wal.Append([]byte("first"), []byte("1"))
	wal.Append([]byte("second"), []byte("2"))
	if err := wal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Flip a payload byte inside the second record
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[len(data)-6] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	expectPairs(t, replayAll(t, path), [][2]string{{"first", "1"}})
}
