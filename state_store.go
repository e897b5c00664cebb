package smarterid

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// State is the stable storage RFC 4122 §4.2.1 asks version 1 generators to
// keep between runs.
type State struct {
	LastTimestamp Timestamp `json:"last_timestamp"`
	ClockSequence uint16    `json:"clock_sequence"`
	Node          Node      `json:"node"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StateStore persists generator State.
type StateStore interface {
	// Load returns nil, nil when no state has been saved yet.
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s State) error
}

// BackendStateStore keeps State as a JSON object on a Backend.
//
// Saves are conditional on the ETag seen by the last Load or Save, so two
// generators writing the same key without a lock get ErrConflict instead of
// silently overwriting each other. With a DistributedLock configured the
// ETag is re-checked under the lock, and a writer that has not seen the
// latest state still gets ErrConflict.
type BackendStateStore struct {
	backend Backend
	key     string
	lock    *DistributedLock
	lockTTL time.Duration
	logger  Logger
	metrics Metrics

	mu   sync.Mutex
	etag string
}

// StateStoreOption configures a BackendStateStore
type StateStoreOption func(*BackendStateStore)

// WithStateKey overrides DefaultStateKey.
func WithStateKey(key string) StateStoreOption {
	return func(s *BackendStateStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithStateLock serializes saves across processes.
func WithStateLock(lock *DistributedLock, ttl time.Duration) StateStoreOption {
	return func(s *BackendStateStore) {
		s.lock = lock
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithStateLogger sets the logger.
func WithStateLogger(logger Logger) StateStoreOption {
	return func(s *BackendStateStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStateMetrics sets the metrics collector.
func WithStateMetrics(metrics Metrics) StateStoreOption {
	return func(s *BackendStateStore) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// NewBackendStateStore creates a state store on backend.
func NewBackendStateStore(backend Backend, opts ...StateStoreOption) *BackendStateStore {
	s := &BackendStateStore{
		backend: backend,
		key:     DefaultStateKey,
		lockTTL: DefaultLockTTL,
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the backend key holding the state.
func (s *BackendStateStore) Key() string {
	return s.key
}

func (s *BackendStateStore) Load(ctx context.Context) (*State, error) {
	start := time.Now()
	defer func() {
		s.metrics.Timing(MetricStateLatency, time.Since(start), "operation", "load")
	}()
	s.metrics.Increment(MetricStateOps, "operation", "load")

	data, etag, err := s.backend.GetWithETag(ctx, s.key)
	if err != nil {
		if IsNotFound(err) {
			s.mu.Lock()
			s.etag = ""
			s.mu.Unlock()
			s.logger.Debug("no generator state yet", "key", s.key)
			return nil, nil
		}
		s.metrics.Increment(MetricStateErrors, "operation", "load")
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"key":   s.key,
			"error": err.Error(),
		})
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.metrics.Increment(MetricStateErrors, "operation", "load")
		s.logger.Error("generator state corrupted", "key", s.key, "error", err)
		return nil, WithContext(ErrStateCorrupted, map[string]interface{}{
			"key":   s.key,
			"error": err.Error(),
		})
	}
	if uint64(st.LastTimestamp) > timestampMask || st.ClockSequence > clockSeqMask {
		s.metrics.Increment(MetricStateErrors, "operation", "load")
		return nil, WithContext(ErrStateCorrupted, map[string]interface{}{
			"key":            s.key,
			"last_timestamp": uint64(st.LastTimestamp),
			"clock_sequence": st.ClockSequence,
			"reason":         "field exceeds its RFC 4122 width",
		})
	}

	s.mu.Lock()
	s.etag = etag
	s.mu.Unlock()

	return &st, nil
}

func (s *BackendStateStore) Save(ctx context.Context, st State) error {
	start := time.Now()
	defer func() {
		s.metrics.Timing(MetricStateLatency, time.Since(start), "operation", "save")
	}()
	s.metrics.Increment(MetricStateOps, "operation", "save")

	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(st)
	if err != nil {
		s.metrics.Increment(MetricStateErrors, "operation", "save")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expected := s.etag
	if s.lock != nil {
		release, err := s.lock.TryLockWithRetry(ctx, s.key, s.lockTTL, DefaultMaxRetries)
		if err != nil {
			s.metrics.Increment(MetricStateErrors, "operation", "save")
			return err
		}
		defer release()

		_, current, err := s.backend.GetWithETag(ctx, s.key)
		switch {
		case err == nil:
		case IsNotFound(err):
			current = ""
		default:
			s.metrics.Increment(MetricStateErrors, "operation", "save")
			return WithContext(ErrBackendUnavailable, map[string]interface{}{
				"key":   s.key,
				"error": err.Error(),
			})
		}
		// The lock orders writers; it must not let a stale one through.
		if current != expected {
			s.metrics.Increment(MetricStateErrors, "operation", "save")
			s.logger.Warn("generator state changed since last read", "key", s.key)
			return WithContext(ErrConflict, map[string]interface{}{
				"key":           s.key,
				"expected_etag": expected,
				"current_etag":  current,
			})
		}
	}

	etag, err := s.backend.PutIfMatch(ctx, s.key, data, expected)
	if err != nil {
		s.metrics.Increment(MetricStateErrors, "operation", "save")
		if IsRetryable(err) {
			s.logger.Warn("generator state save conflicted", "key", s.key, "error", err)
			return err
		}
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"key":   s.key,
			"error": err.Error(),
		})
	}
	s.etag = etag
	return nil
}
