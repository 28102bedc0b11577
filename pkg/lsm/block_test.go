package lsm

import (
	"bytes"
	"fmt"
	"testing"
)

// buildTestBlock packs the given pairs into a single block
func buildTestBlock(t *testing.T, pairs [][2]string, blockSize int) *Block {
	t.Helper()
	builder := NewBlockBuilder(blockSize)
	for _, pair := range pairs {
		if !builder.Add([]byte(pair[0]), []byte(pair[1])) {
			t.Fatalf("Add(%q) rejected unexpectedly", pair[0])
		}
	}
	return builder.Build()
}

// TestBlock_EncodeDecodeRoundTrip verifies a decoded block iterates back to
// the exact sequence that was added
func TestBlock_EncodeDecodeRoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"apple", "red"},
		{"banana", "yellow"},
		{"cherry", "dark"},
		{"damson", ""},
	}
	block := buildTestBlock(t, pairs, 4096)

	decoded, err := DecodeBlock(block.Encode())
	if err != nil {
		t.Fatalf("DecodeBlock failed: %v", err)
	}
	if decoded.NumEntries() != len(pairs) {
		t.Fatalf("Expected %d entries, got %d", len(pairs), decoded.NumEntries())
	}

	it := NewBlockIteratorAndSeekToFirst(decoded)
	for i := 0; it.IsValid(); i++ {
		if !bytes.Equal(it.Key(), []byte(pairs[i][0])) {
			t.Errorf("Entry %d: expected key %q, got %q", i, pairs[i][0], it.Key())
		}
		if !bytes.Equal(it.Value(), []byte(pairs[i][1])) {
			t.Errorf("Entry %d: expected value %q, got %q", i, pairs[i][1], it.Value())
		}
		it.Next()
	}
}

// TestBlock_FirstKeyReconstruction verifies the first key is recoverable
// from the first entry alone (overlap is always zero there)
func TestBlock_FirstKeyReconstruction(t *testing.T) {
	block := buildTestBlock(t, [][2]string{
		{"shared-prefix-aa", "1"},
		{"shared-prefix-ab", "2"},
		{"shared-prefix-b", "3"},
	}, 4096)

	decoded, err := DecodeBlock(block.Encode())
	if err != nil {
		t.Fatalf("DecodeBlock failed: %v", err)
	}
	if got := decoded.FirstKey(); !bytes.Equal(got, []byte("shared-prefix-aa")) {
		t.Errorf("Expected first key %q, got %q", "shared-prefix-aa", got)
	}
}

// TestBlockBuilder_SizeBound verifies Add rejects entries that would push
// the encoded size past the target, while the first entry always fits
func TestBlockBuilder_SizeBound(t *testing.T) {
	builder := NewBlockBuilder(64)

	large := make([]byte, 200)
	if !builder.Add([]byte("huge"), large) {
		t.Fatal("First entry must always be accepted")
	}
	if builder.Add([]byte("next"), []byte("v")) {
		t.Fatal("Second entry should be rejected: block is already over target")
	}

	builder = NewBlockBuilder(4096)
	accepted := 0
	for i := 0; i < 1000; i++ {
		if !builder.Add([]byte(fmt.Sprintf("key%04d", i)), []byte("0123456789")) {
			break
		}
		accepted++
	}
	if accepted == 0 || accepted == 1000 {
		t.Fatalf("Expected the builder to fill up partway, accepted %d", accepted)
	}
	if got := len(builder.Build().Encode()); got > 4096 {
		t.Errorf("Encoded block size %d exceeds target 4096", got)
	}
}

// TestBlockIterator_SeekToKey verifies binary-search positioning for
// present, absent and out-of-range keys
func TestBlockIterator_SeekToKey(t *testing.T) {
	block := buildTestBlock(t, [][2]string{
		{"b", "1"}, {"d", "2"}, {"f", "3"},
	}, 4096)

	cases := []struct {
		seek    string
		wantKey string
		valid   bool
	}{
		{"a", "b", true},
		{"b", "b", true},
		{"c", "d", true},
		{"d", "d", true},
		{"e", "f", true},
		{"f", "f", true},
		{"g", "", false},
	}
	for _, tc := range cases {
		it := NewBlockIteratorAndSeekToKey(block, []byte(tc.seek))
		if it.IsValid() != tc.valid {
			t.Errorf("SeekToKey(%q): expected valid=%v, got %v", tc.seek, tc.valid, it.IsValid())
			continue
		}
		if tc.valid && !bytes.Equal(it.Key(), []byte(tc.wantKey)) {
			t.Errorf("SeekToKey(%q): expected key %q, got %q", tc.seek, tc.wantKey, it.Key())
		}
	}
}

// TestDecodeBlock_Corruption verifies structural checks reject broken input
func TestDecodeBlock_Corruption(t *testing.T) {
	if _, err := DecodeBlock([]byte{0x01}); err == nil {
		t.Error("Expected error for block shorter than footer")
	}

	// Footer claims more entries than the payload can hold
	if _, err := DecodeBlock([]byte{0x00, 0xff}); err == nil {
		t.Error("Expected error for overflowing offset index")
	}
}
