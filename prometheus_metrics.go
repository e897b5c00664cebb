package smarterid

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registry is nil, uses the default Prometheus registry
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer.(*prometheus.Registry)
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers all standard smarterid metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	factory := promauto.With(p.registry)

	// Generation
	p.counters[MetricGenerateSuccess] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "generator",
			Name:      "uuids_total",
			Help:      "Total number of UUIDs generated",
		},
		[]string{"version"},
	)

	p.counters[MetricGenerateError] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "generator",
			Name:      "errors_total",
			Help:      "Total number of failed generations",
		},
		[]string{"version", "reason"},
	)

	p.histograms[MetricGenerateDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smarterid",
			Subsystem: "generator",
			Name:      "duration_seconds",
			Help:      "UUID generation duration in seconds",
			Buckets:   []float64{.000001, .00001, .0001, .001, .01, .1, 1},
		},
		[]string{"version"},
	)

	// Clock sequence
	p.counters[MetricClockRegression] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "clock",
			Name:      "regressions_total",
			Help:      "Times the clock did not advance between version 1 generations",
		},
		[]string{},
	)

	p.gauges[MetricClockSequence] = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "smarterid",
			Subsystem: "clock",
			Name:      "sequence",
			Help:      "Current 14-bit clock sequence",
		},
		[]string{},
	)

	p.counters[MetricClockSeqAllocate] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "clockseq",
			Name:      "allocations_total",
			Help:      "Clock sequences drawn from a sequencer",
		},
		[]string{"source"},
	)

	// Codec
	p.counters[MetricParseSuccess] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "codec",
			Name:      "parsed_total",
			Help:      "Strings successfully parsed as UUIDs",
		},
		[]string{},
	)

	p.counters[MetricParseError] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "codec",
			Name:      "parse_errors_total",
			Help:      "Strings rejected by the canonical parser",
		},
		[]string{},
	)

	// State store
	p.counters[MetricStateOps] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "state",
			Name:      "operations_total",
			Help:      "Total number of state store operations",
		},
		[]string{"operation"},
	)

	p.counters[MetricStateErrors] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "state",
			Name:      "errors_total",
			Help:      "Total number of state store errors",
		},
		[]string{"operation"},
	)

	p.histograms[MetricStateLatency] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smarterid",
			Subsystem: "state",
			Name:      "operation_duration_seconds",
			Help:      "State store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// SQL endpoint
	p.counters[MetricSQLQueries] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smarterid",
			Subsystem: "sql",
			Name:      "queries_total",
			Help:      "Queries answered by the wire protocol endpoint",
		},
		[]string{"result"},
	)

	p.histograms[MetricSQLDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smarterid",
			Subsystem: "sql",
			Name:      "query_duration_seconds",
			Help:      "Query execution duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"result"},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		// Create dynamic counter if it doesn't exist
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smarterid",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(p.extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "smarterid",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(p.extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "smarterid",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i < len(tags)-1; i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// sanitizeMetricName turns dotted names into valid Prometheus identifiers.
func sanitizeMetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(strings.TrimPrefix(name, "smarterid."))
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}
