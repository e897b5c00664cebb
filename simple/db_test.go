package simple

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/adrianmcphee/smarterid"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SMARTERID_DATA", "")
	t.Setenv("SMARTERID_NODE", "")
	t.Setenv("REDIS_ADDR", "")
}

func TestConnect_Defaults(t *testing.T) {
	clearEnv(t)

	db, err := Connect(WithNodeMode(smarterid.NodeModeRandom))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer db.Close()

	if db.Generator() == nil {
		t.Fatal("Expected a generator")
	}
	if db.Lock() != nil {
		t.Error("Expected no lock without Redis")
	}

	id, err := db.NewV4()
	if err != nil {
		t.Fatalf("NewV4 failed: %v", err)
	}
	if u := smarterid.MustParse(id); u.Version() != smarterid.VersionRandom {
		t.Errorf("NewV4 returned version %v", u.Version())
	}

	id, err = db.NewV1(context.Background())
	if err != nil {
		t.Fatalf("NewV1 failed: %v", err)
	}
	u := smarterid.MustParse(id)
	if u.Version() != smarterid.VersionTimeBased {
		t.Errorf("NewV1 returned version %v", u.Version())
	}
	if !u.Node().IsMulticast() {
		t.Errorf("Random node %s should have the multicast bit set", u.Node())
	}

	if got := db.NameID(smarterid.NamespaceDNS, "www.example.com"); got != "2ed6657d-e927-568b-95e1-2665a8aea6a2" {
		t.Errorf("NameID = %s", got)
	}
}

func TestConnect_InvalidNodeMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMARTERID_NODE", "bogus")

	if _, err := Connect(); err == nil {
		t.Fatal("Expected error for unknown node mode")
	}
}

func TestConnect_DataDirPersistsState(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "state")
	t.Setenv("SMARTERID_DATA", dir)
	t.Setenv("SMARTERID_NODE", smarterid.NodeModeRandom)

	db, err := Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	id, err := db.NewV1(context.Background())
	if err != nil {
		t.Fatalf("NewV1 failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(smarterid.DefaultStateKey)))
	if err != nil {
		t.Fatalf("State file not written: %v", err)
	}
	var state smarterid.State
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("Invalid state: %v", err)
	}

	u := smarterid.MustParse(id)
	if state.Node != u.Node() {
		t.Errorf("state node = %s, want %s", state.Node, u.Node())
	}
	if state.LastTimestamp < u.Timestamp() {
		t.Errorf("state timestamp %d older than issued %d", state.LastTimestamp, u.Timestamp())
	}
}

func TestConnect_WithBackend(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	db, err := Connect(
		WithBackend(smarterid.NewFilesystemBackend(dir)),
		WithNodeMode(smarterid.NodeModeRandom),
	)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := db.NewV1(context.Background()); err != nil {
		t.Fatalf("NewV1 failed: %v", err)
	}
	db.Close()

	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(smarterid.DefaultStateKey))); err != nil {
		t.Errorf("Expected state on the custom backend: %v", err)
	}
}

func TestConnect_WithGenerator(t *testing.T) {
	clearEnv(t)

	gen, err := smarterid.NewGenerator(smarterid.WithNodeSource(smarterid.RandomNode{}))
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}

	db, err := Connect(WithGenerator(gen))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer db.Close()

	if db.Generator() != gen {
		t.Error("Expected the supplied generator")
	}

	if _, err := Connect(WithGenerator(nil)); err == nil {
		t.Error("Expected error for nil generator")
	}
}

func TestConnect_WithRedis(t *testing.T) {
	clearEnv(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, err := Connect(
		WithRedis(client),
		WithBackend(smarterid.NewFilesystemBackend(t.TempDir())),
		WithNodeMode(smarterid.NodeModeRandom),
	)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if db.Lock() == nil {
		t.Fatal("Expected a lock with Redis")
	}

	id, err := db.NewV1(context.Background())
	if err != nil {
		t.Fatalf("NewV1 failed: %v", err)
	}

	// The first clock sequence comes from the shared Redis counter
	if seq := smarterid.MustParse(id).ClockSequence(); seq != 1 {
		t.Errorf("clock sequence = %d, want 1", seq)
	}
	if v, err := mr.Get(smarterid.DefaultClockSequenceKey); err != nil || v != "1" {
		t.Errorf("redis counter = %q (%v), want 1", v, err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The caller keeps ownership of the client
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("Client closed by DB: %v", err)
	}
}

func TestConnect_RedisFromEnv(t *testing.T) {
	clearEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())

	db, err := Connect(WithNodeMode(smarterid.NodeModeRandom))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer db.Close()

	if db.Lock() == nil {
		t.Fatal("Expected Redis to be picked up from REDIS_ADDR")
	}
	if _, err := db.NewV1(context.Background()); err != nil {
		t.Fatalf("NewV1 failed: %v", err)
	}
	if !mr.Exists(smarterid.DefaultClockSequenceKey) {
		t.Error("Expected the clock sequence counter in Redis")
	}
}

func TestConnect_RedisUnreachable(t *testing.T) {
	clearEnv(t)
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	t.Setenv("REDIS_ADDR", addr)

	db, err := Connect(WithNodeMode(smarterid.NodeModeRandom))
	if err != nil {
		t.Fatalf("Connect should degrade without Redis: %v", err)
	}
	defer db.Close()

	if db.Lock() != nil {
		t.Error("Expected no lock when Redis is unreachable")
	}
	if _, err := db.NewV1(context.Background()); err != nil {
		t.Fatalf("NewV1 failed: %v", err)
	}
}

func TestMustConnect_Panics(t *testing.T) {
	clearEnv(t)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic")
		}
	}()
	MustConnect(WithNodeMode("bogus"))
}
