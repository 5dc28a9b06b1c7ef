package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional bundle of prometheus collectors the engine
// updates as it runs. Nil-safe: every method is a no-op if m is nil,
// so callers never need a "if metrics enabled" branch.
type Metrics struct {
	CacheHitRatio  prometheus.Gauge
	DirtyPages     prometheus.Gauge
	WALFsync       prometheus.Histogram
	WALTruncations prometheus.Counter
	ScanRows       *prometheus.CounterVec
}

// NewMetrics registers TinyDb's collectors on reg and returns the bundle.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tinydb_page_cache_hit_ratio",
			Help: "Fraction of page manager lookups served from cache.",
		}),
		DirtyPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tinydb_dirty_pages",
			Help: "Number of cached pages with unflushed writes.",
		}),
		WALFsync: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tinydb_wal_fsync_seconds",
			Help:    "Latency of WAL fsync calls.",
			Buckets: prometheus.DefBuckets,
		}),
		WALTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinydb_wal_truncate_total",
			Help: "Number of WAL truncations performed after a checkpoint.",
		}),
		ScanRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinydb_scan_rows_total",
			Help: "Rows produced by the query executor, labeled by strategy.",
		}, []string{"strategy"}),
	}
	reg.MustRegister(m.CacheHitRatio, m.DirtyPages, m.WALFsync, m.WALTruncations, m.ScanRows)
	return m
}

func (m *Metrics) SetCacheHitRatio(r float64) {
	if m == nil {
		return
	}
	m.CacheHitRatio.Set(r)
}

func (m *Metrics) SetDirtyPages(n int) {
	if m == nil {
		return
	}
	m.DirtyPages.Set(float64(n))
}

func (m *Metrics) ObserveWALFsync(seconds float64) {
	if m == nil {
		return
	}
	m.WALFsync.Observe(seconds)
}

func (m *Metrics) IncWALTruncate() {
	if m == nil {
		return
	}
	m.WALTruncations.Inc()
}

func (m *Metrics) IncScanRows(strategy string, n int) {
	if m == nil {
		return
	}
	m.ScanRows.WithLabelValues(strategy).Add(float64(n))
}
