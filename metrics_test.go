package authgate

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricCSRFMissing)

	if got := m.Value(MetricCSRFMissing); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %d counters", len(snap.Counters))
	}
}

func TestMetricsNilIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricRequests)
	m.Observe(MetricGateLatency, time.Millisecond)
	if m.Value(MetricRequests) != 0 || m.Enabled() {
		t.Fatal("nil metrics must record nothing")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRequests)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRequests); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsAddCountsSanitizedFields(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Add(MetricSanitizedFields, 3)
	m.Add(MetricSanitizedFields, 0)
	m.Add(MetricSanitizedFields, 2)

	if got := m.Value(MetricSanitizedFields); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricGateLatency, d)
	}
	// Only the gate latency metric has a histogram.
	m.Observe(MetricRequests, time.Millisecond)

	buckets := m.Snapshot().Histograms[MetricGateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, v)
		}
	}
}

func TestMetricsHistogramDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricGateLatency, time.Millisecond)

	if _, ok := m.Snapshot().Histograms[MetricGateLatency]; ok {
		t.Fatal("histogram should be absent when latency histograms are off")
	}
}
