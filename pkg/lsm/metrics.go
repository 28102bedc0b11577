package lsm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the engine's prometheus instrumentation, scoped to one
// registerer so multiple engine instances can coexist in a process.
type Metrics struct {
	WritesTotal      prometheus.Counter
	ReadsTotal       prometheus.Counter
	DeletesTotal     prometheus.Counter
	FlushesTotal     prometheus.Counter
	CompactionsTotal prometheus.Counter

	MemTableBytes   prometheus.Gauge
	ImmutableTables prometheus.Gauge
	Level0Tables    prometheus.Gauge
	TotalTables     prometheus.Gauge

	FlushDuration      prometheus.Histogram
	CompactionDuration prometheus.Histogram
}

// NewMetrics registers the engine metric set with the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		WritesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cluso_kv_writes_total",
			Help: "Total number of put operations",
		}),
		ReadsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cluso_kv_reads_total",
			Help: "Total number of get operations",
		}),
		DeletesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cluso_kv_deletes_total",
			Help: "Total number of delete operations",
		}),
		FlushesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cluso_kv_flushes_total",
			Help: "Total number of memtable flushes",
		}),
		CompactionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cluso_kv_compactions_total",
			Help: "Total number of compactions executed",
		}),
		MemTableBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cluso_kv_memtable_bytes",
			Help: "Approximate size of the active memtable in bytes",
		}),
		ImmutableTables: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cluso_kv_immutable_memtables",
			Help: "Number of immutable memtables waiting for flush",
		}),
		Level0Tables: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cluso_kv_level0_tables",
			Help: "Number of SSTs in level 0",
		}),
		TotalTables: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cluso_kv_tables_total",
			Help: "Total number of live SSTs",
		}),
		FlushDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cluso_kv_flush_duration_seconds",
			Help:    "Memtable flush latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		CompactionDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cluso_kv_compaction_duration_seconds",
			Help:    "Compaction latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
