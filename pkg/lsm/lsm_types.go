package lsm

import (
	"os"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

// CompactionStrategy selects the background compaction algorithm
type CompactionStrategy string

const (
	// CompactionNone disables background compaction; flushes still go to L0
	CompactionNone CompactionStrategy = "none"
	// CompactionSimple is count-ratio driven simple leveled compaction
	CompactionSimple CompactionStrategy = "simple"
	// CompactionLeveled is reserved for a leveled controller
	CompactionLeveled CompactionStrategy = "leveled"
	// CompactionTiered is reserved for a tiered controller
	CompactionTiered CompactionStrategy = "tiered"
)

// SimpleLeveledCompactionOptions configures the simple leveled controller.
// The size ratio compares file counts, not bytes.
type SimpleLeveledCompactionOptions struct {
	SizeRatioPercent               int `yaml:"size_ratio_percent" validate:"gt=0"`
	Level0FileNumCompactionTrigger int `yaml:"level0_file_num_compaction_trigger" validate:"gt=0"`
	MaxLevels                      int `yaml:"max_levels" validate:"gt=0"`
}

// CompactionOptions selects and configures a compaction strategy
type CompactionOptions struct {
	Strategy CompactionStrategy              `yaml:"strategy" validate:"oneof=none simple leveled tiered"`
	Simple   *SimpleLeveledCompactionOptions `yaml:"simple,omitempty"`
}

// Options configures an engine instance
type Options struct {
	// BlockSize is the target encoded size of one data block in bytes
	BlockSize int `yaml:"block_size" validate:"gt=0"`
	// TargetSSTSize bounds SST data regions and doubles as the memtable
	// freeze threshold
	TargetSSTSize int `yaml:"target_sst_size" validate:"gt=0"`
	// NumMemTableLimit caps in-memory memtables before flush pressure
	NumMemTableLimit int `yaml:"num_memtable_limit" validate:"gt=1"`
	// BlockCacheCapacity is the shared block cache size in blocks
	BlockCacheCapacity int `yaml:"block_cache_capacity" validate:"gte=0"`
	// Compaction selects the background compaction strategy
	Compaction CompactionOptions `yaml:"compaction"`
	// EnableWAL gives every memtable a write-ahead log
	EnableWAL bool `yaml:"enable_wal"`
	// CompressWAL snappy-compresses WAL records
	CompressWAL bool `yaml:"compress_wal"`
	// Serializable is reserved; the engine provides per-operation snapshots only
	Serializable bool `yaml:"serializable"`

	// Logger receives engine events; defaults to the process logger
	Logger logging.Logger `yaml:"-"`
	// Metrics receives engine instrumentation; nil disables it
	Metrics *Metrics `yaml:"-"`
}

// DefaultOptions returns a configuration suitable for tests and small
// embedded deployments
func DefaultOptions() Options {
	return Options{
		BlockSize:          4096,
		TargetSSTSize:      2 << 20,
		NumMemTableLimit:   50,
		BlockCacheCapacity: 1024,
		Compaction:         CompactionOptions{Strategy: CompactionNone},
	}
}

// LoadOptions reads a yaml options file over the defaults
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, opError("LoadOptions", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, opError("LoadOptions", err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Validate checks the option constraints
func (o *Options) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return opError("Validate", err)
	}
	if o.Compaction.Strategy == CompactionSimple && o.Compaction.Simple == nil {
		return &EngineError{Op: "Validate", Cause: ErrInvariantViolated, Context: "simple compaction selected without options"}
	}
	return nil
}

// engineStats tracks engine counters with lock-free atomics
type engineStats struct {
	WriteCount      atomic.Int64
	ReadCount       atomic.Int64
	FlushCount      atomic.Int64
	CompactionCount atomic.Int64
	BytesWritten    atomic.Int64
	BytesRead       atomic.Int64
}

// StatsSnapshot is a point-in-time view of engine statistics
type StatsSnapshot struct {
	WriteCount       int64
	ReadCount        int64
	FlushCount       int64
	CompactionCount  int64
	BytesWritten     int64
	BytesRead        int64
	MemTableSize     int
	ImmutableCount   int
	Level0TableCount int
	TotalTableCount  int
}
