package lsm

import (
	"os"

	"github.com/bits-and-blooms/bloom/v3"
)

// bloomFalsePositiveRate is the target false-positive rate for table filters
const bloomFalsePositiveRate = 0.01

// TableFilter is a per-SST bloom filter over every key in the table. It is
// stored in a sidecar file next to the table so the table byte format stays
// stable; a missing or unreadable sidecar just disables the filter.
type TableFilter struct {
	filter *bloom.BloomFilter
}

// BuildTableFilter creates a filter sized for the given keys and adds them all
func BuildTableFilter(keys [][]byte) *TableFilter {
	n := uint(len(keys))
	if n == 0 {
		n = 1
	}
	filter := bloom.NewWithEstimates(n, bloomFalsePositiveRate)
	for _, key := range keys {
		filter.Add(key)
	}
	return &TableFilter{filter: filter}
}

// MayContain reports whether the key may be present in the table. False
// means definitely absent.
func (f *TableFilter) MayContain(key []byte) bool {
	return f.filter.Test(key)
}

// Save writes the filter to its sidecar path
func (f *TableFilter) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.filter.WriteTo(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadTableFilter reads a filter from its sidecar path. The returned filter
// is nil (meaning "no filter") when the sidecar is missing or unreadable.
func LoadTableFilter(path string) *TableFilter {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(file); err != nil {
		return nil
	}
	return &TableFilter{filter: filter}
}
