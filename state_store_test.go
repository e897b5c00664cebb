package smarterid

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingBackend returns err from every conditional operation.
type failingBackend struct {
	Backend
	err error
}

func (b *failingBackend) GetWithETag(ctx context.Context, key string) ([]byte, string, error) {
	return nil, "", b.err
}

func (b *failingBackend) PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	return "", b.err
}

func TestBackendStateStore_LoadEmpty(t *testing.T) {
	store := NewBackendStateStore(NewFilesystemBackend(t.TempDir()))

	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st != nil {
		t.Errorf("expected no state, got %+v", st)
	}
	if store.Key() != DefaultStateKey {
		t.Errorf("Key() = %q, want %q", store.Key(), DefaultStateKey)
	}
}

func TestBackendStateStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewFilesystemBackend(t.TempDir())
	metrics := NewInMemoryMetrics()
	store := NewBackendStateStore(backend, WithStateKey("ids/state.json"), WithStateMetrics(metrics))

	want := State{
		LastTimestamp: 0x1d19dad6ba7b810,
		ClockSequence: 0x3fff,
		Node:          Node(testNode),
		UpdatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	exists, err := backend.Exists(ctx, "ids/state.json")
	if err != nil || !exists {
		t.Fatalf("state object missing: exists=%v err=%v", exists, err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected state")
	}
	if got.LastTimestamp != want.LastTimestamp || got.ClockSequence != want.ClockSequence || got.Node != want.Node {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}

	// A second save from the same store carries the ETag forward.
	want.LastTimestamp++
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	if metrics.Count(MetricStateOps) != 3 {
		t.Errorf("state ops = %d, want 3", metrics.Count(MetricStateOps))
	}
	if metrics.Count(MetricStateErrors) != 0 {
		t.Errorf("state errors = %d, want 0", metrics.Count(MetricStateErrors))
	}
	if len(metrics.Timings[MetricStateLatency]) != 3 {
		t.Errorf("latency samples = %d, want 3", len(metrics.Timings[MetricStateLatency]))
	}
}

func TestBackendStateStore_FillsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := NewBackendStateStore(NewFilesystemBackend(t.TempDir()))

	before := time.Now().Add(-time.Second)
	if err := store.Save(ctx, State{LastTimestamp: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	st, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.UpdatedAt.Before(before) {
		t.Errorf("UpdatedAt = %v, want a recent time", st.UpdatedAt)
	}
}

func TestBackendStateStore_Corrupted(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"last_timestamp": `},
		{"wrong type", `{"last_timestamp": "yesterday"}`},
		{"bad node", `{"node": "02:00"}`},
		{"timestamp too wide", `{"last_timestamp": 1152921504606846976}`},
		{"clock sequence too wide", `{"clock_sequence": 16384}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := NewFilesystemBackend(t.TempDir())
			if err := backend.Put(ctx, DefaultStateKey, []byte(tt.data)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			logger := &MockLogger{}
			store := NewBackendStateStore(backend, WithStateLogger(logger))
			_, err := store.Load(ctx)
			if !errors.Is(err, ErrStateCorrupted) {
				t.Errorf("expected ErrStateCorrupted, got %v", err)
			}
		})
	}
}

func TestBackendStateStore_ConcurrentWritersConflict(t *testing.T) {
	ctx := context.Background()
	backend := NewFilesystemBackend(t.TempDir())
	logger := &MockLogger{}

	a := NewBackendStateStore(backend)
	b := NewBackendStateStore(backend, WithStateLogger(logger))

	if _, err := a.Load(ctx); err != nil {
		t.Fatalf("a.Load failed: %v", err)
	}
	if _, err := b.Load(ctx); err != nil {
		t.Fatalf("b.Load failed: %v", err)
	}

	if err := a.Save(ctx, State{LastTimestamp: 10}); err != nil {
		t.Fatalf("a.Save failed: %v", err)
	}

	// b still believes the key is absent.
	err := b.Save(ctx, State{LastTimestamp: 20})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !logger.Has("WARN", "generator state save conflicted") {
		t.Error("expected a conflict warning")
	}

	// After reloading, b may write again.
	st, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("b.Load failed: %v", err)
	}
	if st.LastTimestamp != 10 {
		t.Errorf("LastTimestamp = %d, want 10", st.LastTimestamp)
	}
	if err := b.Save(ctx, State{LastTimestamp: 20}); err != nil {
		t.Errorf("b.Save after reload failed: %v", err)
	}
}

func TestBackendStateStore_LockedSave(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	backend := NewFilesystemBackend(t.TempDir())
	lock := NewDistributedLock(client, "smarterid")
	metrics := NewInMemoryMetrics()

	a := NewBackendStateStore(backend, WithStateLock(lock, time.Second))
	b := NewBackendStateStore(backend, WithStateLock(lock, time.Second), WithStateMetrics(metrics))

	if err := a.Save(ctx, State{LastTimestamp: 1}); err != nil {
		t.Fatalf("a.Save failed: %v", err)
	}

	// b never loaded, so holding the lock must not let it overwrite a's save.
	err := b.Save(ctx, State{LastTimestamp: 2})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a stale writer, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("locked conflicts should be retryable")
	}
	if metrics.Count(MetricStateErrors) != 1 {
		t.Errorf("state errors = %d, want 1", metrics.Count(MetricStateErrors))
	}

	st, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.LastTimestamp != 1 {
		t.Errorf("LastTimestamp = %d, want 1", st.LastTimestamp)
	}

	// After loading, b sees the current ETag and may write.
	if _, err := b.Load(ctx); err != nil {
		t.Fatalf("b.Load failed: %v", err)
	}
	if err := b.Save(ctx, State{LastTimestamp: 2}); err != nil {
		t.Fatalf("b.Save after reload failed: %v", err)
	}
	// a's ETag is stale now.
	if err := a.Save(ctx, State{LastTimestamp: 3}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for a, got %v", err)
	}

	// The lock key is released after each save, including failed ones.
	release, err := lock.Lock(ctx, b.Key(), time.Second)
	if err != nil {
		t.Fatalf("lock should be free after save: %v", err)
	}
	release()
}

func TestBackendStateStore_LockHeld(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	lock := NewDistributedLock(client, "smarterid")
	metrics := NewInMemoryMetrics()
	store := NewBackendStateStore(NewFilesystemBackend(t.TempDir()),
		WithStateLock(lock, time.Second),
		WithStateMetrics(metrics),
	)

	release, err := lock.Lock(ctx, store.Key(), 10*time.Second)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer release()

	err = store.Save(ctx, State{LastTimestamp: 1})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if metrics.Count(MetricStateErrors) != 1 {
		t.Errorf("state errors = %d, want 1", metrics.Count(MetricStateErrors))
	}
}

func TestBackendStateStore_BackendFailure(t *testing.T) {
	ctx := context.Background()
	store := NewBackendStateStore(&failingBackend{
		Backend: NewFilesystemBackend(t.TempDir()),
		err:     errors.New("connection reset"),
	})

	if _, err := store.Load(ctx); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Load: expected ErrBackendUnavailable, got %v", err)
	}
	if err := store.Save(ctx, State{}); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Save: expected ErrBackendUnavailable, got %v", err)
	}
}
