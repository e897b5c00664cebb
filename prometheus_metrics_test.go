package smarterid

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	if metrics.registry != registry {
		t.Error("registry not set correctly")
	}
	if len(metrics.counters) == 0 {
		t.Error("expected counters to be registered")
	}
	if len(metrics.gauges) == 0 {
		t.Error("expected gauges to be registered")
	}
	if len(metrics.histograms) == 0 {
		t.Error("expected histograms to be registered")
	}
}

func TestPrometheusMetricsIncrement(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment(MetricGenerateSuccess, "version", "4")
	metrics.Increment(MetricGenerateSuccess, "version", "4")
	metrics.Increment(MetricGenerateSuccess, "version", "5")

	got := testutil.ToFloat64(metrics.counters[MetricGenerateSuccess].WithLabelValues("4"))
	if got != 2 {
		t.Errorf("v4 counter = %v, want 2", got)
	}
}

func TestPrometheusMetricsGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Gauge(MetricClockSequence, 5)
	metrics.Gauge(MetricClockSequence, 6)

	got := testutil.ToFloat64(metrics.gauges[MetricClockSequence].WithLabelValues())
	if got != 6 {
		t.Errorf("clock sequence gauge = %v, want 6", got)
	}
}

func TestPrometheusMetricsTiming(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Timing(MetricStateLatency, 100*time.Millisecond, "operation", "load")
	metrics.Timing(MetricStateLatency, 50*time.Millisecond, "operation", "save")

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metricFamilies {
		if strings.Contains(mf.GetName(), "state_operation_duration_seconds") {
			found = true
			if mf.GetType() != 4 { // HISTOGRAM = 4
				t.Errorf("expected histogram type, got %v", mf.GetType())
			}
		}
	}
	if !found {
		t.Error("expected state operation duration metric")
	}
}

func TestPrometheusMetricsDynamic(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment(MetricLockAcquired, "key", "state")
	metrics.Increment(MetricLockAcquired, "key", "state")

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() == "smarterid_lock_acquired" {
			found = true
		}
	}
	if !found {
		t.Error("expected dynamic counter smarterid_lock_acquired")
	}
}

func TestSanitizeMetricName(t *testing.T) {
	if got := sanitizeMetricName("smarterid.clockseq.error"); got != "clockseq_error" {
		t.Errorf("sanitizeMetricName() = %q", got)
	}
}

func TestPrometheusMetricsGetRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	if metrics.GetRegistry() != registry {
		t.Error("GetRegistry returned wrong registry")
	}
}

func TestPrometheusMetricsConcurrency(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				metrics.Increment(MetricGenerateSuccess, "version", "1")
				metrics.Increment(MetricClockSeqError, "source", "redis")
				metrics.Gauge(MetricClockSequence, float64(j))
				metrics.Timing(MetricGenerateDuration, time.Microsecond, "version", "1")
			}
		}()
	}
	wg.Wait()

	got := testutil.ToFloat64(metrics.counters[MetricGenerateSuccess].WithLabelValues("1"))
	if got != 1000 {
		t.Errorf("counter = %v, want 1000", got)
	}
}
