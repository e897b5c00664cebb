package smarterid

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"
)

// Generator produces UUIDs of every supported version from injected
// capabilities. It is safe for concurrent use.
//
// Version 1 generation keeps the RFC 4122 §4.2.1 state (last timestamp,
// clock sequence, node) in memory and, when a StateStore is configured,
// persists it so a restarted process does not reuse a clock sequence.
type Generator struct {
	entropy   io.Reader
	clock     ClockSource
	nodes     NodeSource
	sequencer ClockSequencer
	store     StateStore
	config    GeneratorConfig
	logger    Logger
	metrics   Metrics

	entropyMu sync.Mutex // caller supplied readers need not be concurrency safe

	mu       sync.Mutex
	loaded   bool
	reseed   bool // set after a save conflict
	node     Node
	lastTS   Timestamp
	clockSeq uint16
	lastSave time.Time
}

// Option configures a Generator
type Option func(*Generator)

// WithEntropy sets the random source for version 4 UUIDs and, unless
// overridden, random node ids and clock sequences.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) { g.entropy = r }
}

// WithClock sets the timestamp source for version 1 UUIDs.
func WithClock(c ClockSource) Option {
	return func(g *Generator) { g.clock = c }
}

// WithNodeSource overrides the node source derived from the config.
func WithNodeSource(n NodeSource) Option {
	return func(g *Generator) { g.nodes = n }
}

// WithClockSequencer sets where fresh clock sequences come from.
func WithClockSequencer(s ClockSequencer) Option {
	return func(g *Generator) { g.sequencer = s }
}

// WithStateStore persists version 1 state.
func WithStateStore(s StateStore) Option {
	return func(g *Generator) { g.store = s }
}

// WithConfig replaces DefaultGeneratorConfig.
func WithConfig(cfg GeneratorConfig) Option {
	return func(g *Generator) { g.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(g *Generator) {
		if m != nil {
			g.metrics = m
		}
	}
}

// NewGenerator builds a Generator. Without options it uses crypto/rand, the
// system clock, the first hardware address (random fallback) and no
// persistent state.
func NewGenerator(opts ...Option) (*Generator, error) {
	g := &Generator{
		entropy: rand.Reader,
		clock:   SystemClock{},
		config:  DefaultGeneratorConfig(),
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.config.Validate(); err != nil {
		return nil, err
	}
	if g.entropy == nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Entropy",
			"reason": "entropy source is required",
		})
	}
	if g.clock == nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Clock",
			"reason": "clock source is required",
		})
	}
	if g.nodes == nil {
		nodes, err := g.config.NodeSource()
		if err != nil {
			return nil, err
		}
		// Random nodes draw from the generator's entropy so tests stay deterministic.
		switch n := nodes.(type) {
		case RandomNode:
			n.Entropy = g.entropy
			nodes = n
		case HardwareNode:
			n.Fallback = RandomNode{Entropy: g.entropy}
			nodes = n
		}
		g.nodes = nodes
	}
	if g.sequencer == nil {
		g.sequencer = RandomSequencer{Entropy: g.entropy}
	}

	return g, nil
}

// Params selects a version and, for name-based versions, its inputs.
type Params struct {
	Version   Version
	Namespace UUID
	Name      []byte
}

// Generate dispatches to the generator for p.Version.
func (g *Generator) Generate(ctx context.Context, p Params) (UUID, error) {
	switch p.Version {
	case VersionTimeBased:
		return g.V1(ctx)
	case VersionMD5:
		return g.V3(p.Namespace, p.Name), nil
	case VersionRandom:
		return g.V4()
	case VersionSHA1:
		return g.V5(p.Namespace, p.Name), nil
	default:
		g.metrics.Increment(MetricGenerateError, "version", versionLabel(p.Version), "reason", "unsupported")
		return Nil, WithContext(ErrUnsupportedVersion, map[string]interface{}{
			"version": int(p.Version),
		})
	}
}

// V1 returns a time-based UUID.
func (g *Generator) V1(ctx context.Context) (UUID, error) {
	start := time.Now()
	u, err := g.v1(ctx)
	g.observe(VersionTimeBased, start, err)
	return u, err
}

// V1WithRetry is V1 with exponential backoff on retryable errors. A state
// conflict has already reseeded the clock sequence when it is reported, so the
// next attempt issues from the new sequence.
func (g *Generator) V1WithRetry(ctx context.Context, config RetryConfig) (UUID, error) {
	if err := config.Validate(); err != nil {
		return Nil, err
	}

	attempts := config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		var u UUID
		u, err = g.V1(ctx)
		if err == nil || !IsRetryable(err) {
			return u, err
		}

		if i < attempts-1 { // Don't sleep on last iteration
			timer := time.NewTimer(config.backoff(i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return Nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	g.logger.Error("version 1 generation failed after retries",
		"retries", attempts,
		"error", err,
	)
	return Nil, err
}

// V3 returns the MD5 name-based UUID of name in namespace.
func (g *Generator) V3(namespace UUID, name []byte) UUID {
	start := time.Now()
	u := NewMD5(namespace, name)
	g.observe(VersionMD5, start, nil)
	return u
}

// V4 returns a random UUID.
func (g *Generator) V4() (UUID, error) {
	start := time.Now()
	g.entropyMu.Lock()
	u, err := NewRandomFrom(g.entropy)
	g.entropyMu.Unlock()
	g.observe(VersionRandom, start, err)
	return u, err
}

// V5 returns the SHA-1 name-based UUID of name in namespace.
func (g *Generator) V5(namespace UUID, name []byte) UUID {
	start := time.Now()
	u := NewSHA1(namespace, name)
	g.observe(VersionSHA1, start, nil)
	return u
}

func (g *Generator) v1(ctx context.Context) (UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.loaded {
		if err := g.loadState(ctx); err != nil {
			return Nil, err
		}
	}

	ts, err := g.clock.Now()
	if err != nil {
		if !errors.Is(err, ErrClockUnavailable) {
			err = unavailable(ErrClockUnavailable, err)
		}
		return Nil, err
	}

	if ts <= g.lastTS {
		g.clockSeq = (g.clockSeq + 1) & clockSeqMask
		g.metrics.Increment(MetricClockRegression)
		g.logger.Debug("clock did not advance, bumping clock sequence",
			"timestamp", uint64(ts),
			"last", uint64(g.lastTS),
			"clock_seq", g.clockSeq,
		)
	}
	g.lastTS = ts
	g.metrics.Gauge(MetricClockSequence, float64(g.clockSeq))

	u := NewTimeBased(ts, g.clockSeq, g.node)

	if g.store != nil && time.Since(g.lastSave) >= g.config.StateSaveInterval {
		if err := g.saveLocked(ctx); err != nil {
			return Nil, err
		}
	}
	return u, nil
}

// loadState initializes v1 state from the store and node source. Must hold g.mu.
func (g *Generator) loadState(ctx context.Context) error {
	node, err := g.nodes.Node()
	if err != nil {
		if !errors.Is(err, ErrNodeUnavailable) {
			err = unavailable(ErrNodeUnavailable, err)
		}
		return err
	}

	var st *State
	if g.store != nil {
		st, err = g.store.Load(ctx)
		if err != nil {
			return err
		}
	}

	fresh := func() error {
		seq, err := g.sequencer.Next(ctx)
		if err != nil {
			return err
		}
		g.clockSeq = seq & clockSeqMask
		return nil
	}

	switch {
	case st == nil:
		if err := fresh(); err != nil {
			return err
		}
		g.lastTS = 0
	case st.Node != node:
		g.logger.Info("node changed since last run, drawing new clock sequence",
			"stored", st.Node,
			"current", node,
		)
		if err := fresh(); err != nil {
			return err
		}
		g.lastTS = 0
	case g.reseed:
		// Someone else advanced the shared state; keep their timestamp but
		// never their clock sequence.
		if err := fresh(); err != nil {
			return err
		}
		if g.clockSeq == st.ClockSequence {
			g.clockSeq = (g.clockSeq + 1) & clockSeqMask
		}
		g.lastTS = st.LastTimestamp
	default:
		g.clockSeq = st.ClockSequence
		g.lastTS = st.LastTimestamp
	}

	g.node = node
	g.loaded = true
	g.reseed = false
	g.logger.Debug("version 1 state ready",
		"node", node,
		"clock_seq", g.clockSeq,
		"restored", st != nil,
	)
	return nil
}

// saveLocked writes the current state. Must hold g.mu.
func (g *Generator) saveLocked(ctx context.Context) error {
	err := g.store.Save(ctx, State{
		LastTimestamp: g.savedTimestamp(),
		ClockSequence: g.clockSeq,
		Node:          g.node,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			g.loaded = false
			g.reseed = true
		}
		return err
	}
	g.lastSave = time.Now()
	return nil
}

// savedTimestamp is the timestamp written to the store. Saves are throttled to
// one per StateSaveInterval, so the stored value must lie ahead of every tick
// issued before the next save; a restart whose clock falls inside that window
// then bumps the clock sequence instead of reissuing. Must hold g.mu.
func (g *Generator) savedTimestamp() Timestamp {
	ahead := uint64(g.config.StateSaveInterval / (100 * time.Nanosecond))
	if ahead > timestampMask-uint64(g.lastTS) {
		return Timestamp(timestampMask)
	}
	return g.lastTS + Timestamp(ahead)
}

// Flush saves version 1 state now, regardless of StateSaveInterval. It is a
// no-op without a StateStore or before the first version 1 UUID.
func (g *Generator) Flush(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.store == nil || !g.loaded {
		return nil
	}
	return g.saveLocked(ctx)
}

// Node returns the node id used for version 1 UUIDs, resolving it on first use.
func (g *Generator) Node(ctx context.Context) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.loaded {
		if err := g.loadState(ctx); err != nil {
			return Node{}, err
		}
	}
	return g.node, nil
}

func (g *Generator) observe(v Version, start time.Time, err error) {
	label := versionLabel(v)
	if err != nil {
		g.metrics.Increment(MetricGenerateError, "version", label, "reason", errorReason(err))
		g.logger.Warn("uuid generation failed", "version", label, "error", err)
		return
	}
	g.metrics.Increment(MetricGenerateSuccess, "version", label)
	g.metrics.Timing(MetricGenerateDuration, time.Since(start), "version", label)
}

func versionLabel(v Version) string {
	return strconv.Itoa(int(v))
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrClockUnavailable):
		return "clock"
	case errors.Is(err, ErrNodeUnavailable):
		return "node"
	case errors.Is(err, ErrEntropyUnavailable):
		return "entropy"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStateCorrupted), errors.Is(err, ErrBackendUnavailable):
		return "state"
	case errors.Is(err, ErrLockHeld), errors.Is(err, ErrLockTimeout):
		return "lock"
	default:
		return "other"
	}
}

var (
	defaultOnce      sync.Once
	defaultGenerator *Generator
	defaultErr       error
)

// Default returns the package-level generator used by NewV1.
func Default() (*Generator, error) {
	defaultOnce.Do(func() {
		defaultGenerator, defaultErr = NewGenerator()
	})
	return defaultGenerator, defaultErr
}

// NewV1 returns a time-based UUID from the package-level generator.
func NewV1() (UUID, error) {
	g, err := Default()
	if err != nil {
		return Nil, err
	}
	return g.V1(context.Background())
}

// NewV4 returns a random UUID read from crypto/rand.
func NewV4() (UUID, error) {
	return NewRandomFrom(rand.Reader)
}

// MustNewV4 is like NewV4 but panics if crypto/rand fails.
func MustNewV4() UUID {
	u, err := NewV4()
	if err != nil {
		panic(err)
	}
	return u
}

// NewV3 is the function form of Generator.V3 for string names.
func NewV3(namespace UUID, name string) UUID {
	return NewMD5(namespace, []byte(name))
}

// NewV5 is the function form of Generator.V5 for string names.
func NewV5(namespace UUID, name string) UUID {
	return NewSHA1(namespace, []byte(name))
}
