package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetricsNilRegistryReturnsNil(t *testing.T) {
	if m := NewMetrics(nil); m != nil {
		t.Fatalf("expected nil Metrics for a nil registry, got %v", m)
	}
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	// None of these may panic on a nil receiver.
	m.SetCacheHitRatio(0.5)
	m.SetDirtyPages(3)
	m.ObserveWALFsync(0.01)
	m.IncWALTruncate()
	m.IncScanRows("full_scan", 1)
}

func TestNewMetricsRegistersAndRecordsObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if m == nil {
		t.Fatalf("expected non-nil Metrics for a real registry")
	}

	m.SetCacheHitRatio(0.75)
	m.SetDirtyPages(4)
	m.IncWALTruncate()
	m.IncScanRows("index_seek", 2)
	m.IncScanRows("index_seek", 1)

	var hitRatio dto.Metric
	if err := m.CacheHitRatio.Write(&hitRatio); err != nil {
		t.Fatalf("Write CacheHitRatio: %v", err)
	}
	if hitRatio.GetGauge().GetValue() != 0.75 {
		t.Fatalf("expected cache hit ratio 0.75, got %v", hitRatio.GetGauge().GetValue())
	}

	var dirty dto.Metric
	if err := m.DirtyPages.Write(&dirty); err != nil {
		t.Fatalf("Write DirtyPages: %v", err)
	}
	if dirty.GetGauge().GetValue() != 4 {
		t.Fatalf("expected 4 dirty pages, got %v", dirty.GetGauge().GetValue())
	}

	var trunc dto.Metric
	if err := m.WALTruncations.Write(&trunc); err != nil {
		t.Fatalf("Write WALTruncations: %v", err)
	}
	if trunc.GetCounter().GetValue() != 1 {
		t.Fatalf("expected 1 WAL truncation, got %v", trunc.GetCounter().GetValue())
	}

	var scanRows dto.Metric
	if err := m.ScanRows.WithLabelValues("index_seek").Write(&scanRows); err != nil {
		t.Fatalf("Write ScanRows: %v", err)
	}
	if scanRows.GetCounter().GetValue() != 3 {
		t.Fatalf("expected 3 scanned rows for index_seek, got %v", scanRows.GetCounter().GetValue())
	}
}
