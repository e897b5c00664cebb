package smarterid

import (
	"sync"
	"time"
)

// Metrics provides observability for generator, codec and state-store operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing. Tags are ignored.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Count returns a counter value under the lock.
func (m *InMemoryMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// Common metric names
const (
	MetricGenerateSuccess  = "smarterid.generate.success"  // tags: version
	MetricGenerateError    = "smarterid.generate.error"    // tags: version, reason
	MetricGenerateDuration = "smarterid.generate.duration" // tags: version

	MetricParseSuccess = "smarterid.parse.success"
	MetricParseError   = "smarterid.parse.error"

	MetricClockRegression  = "smarterid.clock.regression"
	MetricClockSequence    = "smarterid.clock.sequence"
	MetricClockSeqAllocate = "smarterid.clockseq.allocate" // tags: source
	MetricClockSeqError    = "smarterid.clockseq.error"    // tags: source

	MetricStateOps     = "smarterid.state.ops"     // tags: operation
	MetricStateErrors  = "smarterid.state.errors"  // tags: operation
	MetricStateLatency = "smarterid.state.latency" // tags: operation

	MetricLockAcquired = "smarterid.lock.acquired"
	MetricLockFailed   = "smarterid.lock.failed" // tags: reason

	MetricBreakerTransition = "smarterid.breaker.transition" // tags: name, state

	MetricSQLQueries  = "smarterid.sql.queries"  // tags: result
	MetricSQLDuration = "smarterid.sql.duration" // tags: result
)
