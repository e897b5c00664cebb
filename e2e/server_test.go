package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adrianmcphee/smarterid"
	"github.com/adrianmcphee/smarterid/internal/executor"
	"github.com/adrianmcphee/smarterid/internal/protocol"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type testEnv struct {
	addr    string
	dataDir string
	gen     *smarterid.Generator
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := smarterid.DefaultGeneratorConfig()
	cfg.NodeMode = smarterid.NodeModeRandom
	cfg.StateSaveInterval = 0

	store := smarterid.NewBackendStateStore(smarterid.NewFilesystemBackend(dir))
	gen, err := smarterid.NewGenerator(
		smarterid.WithConfig(cfg),
		smarterid.WithStateStore(store),
	)
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}
	exec, err := executor.NewExecutor(gen)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	server := protocol.NewServer(ln.Addr().String(), exec, nil)
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() { server.Close() })

	return &testEnv{addr: ln.Addr().String(), dataDir: dir, gen: gen}
}

func (env *testEnv) connect(t *testing.T) *pgx.Conn {
	t.Helper()
	host, port, _ := net.SplitHostPort(env.addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, fmt.Sprintf("host=%s port=%s user=test database=ids sslmode=disable", host, port))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close(context.Background()) })
	return conn
}

func queryString(t *testing.T, conn *pgx.Conn, sql string) string {
	t.Helper()
	var s string
	if err := conn.QueryRow(context.Background(), sql, pgx.QueryExecModeSimpleProtocol).Scan(&s); err != nil {
		t.Fatalf("%s: %v", sql, err)
	}
	return s
}

func TestNameBasedOverWire(t *testing.T) {
	env := setupTest(t)
	conn := env.connect(t)

	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT uuid_generate_v3(uuid_ns_dns(), 'www.example.com')", "5df41881-3aed-3515-88a7-2f4a814cf09e"},
		{"SELECT uuid_generate_v5(uuid_ns_dns(), 'www.example.com')", "2ed6657d-e927-568b-95e1-2665a8aea6a2"},
		{"SELECT uuid_generate_v5(uuid_ns_url(), 'https://example.com/')", "dd2c1780-811a-5296-81c5-178a0ef488bc"},
		{"SELECT uuid_ns_x500()", "6ba7b814-9dad-11d1-80b4-00c04fd430c8"},
	}
	for _, tt := range tests {
		if got := queryString(t, conn, tt.sql); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.sql, got, tt.want)
		}
	}
}

func TestGeneratedVersionsOverWire(t *testing.T) {
	env := setupTest(t)
	conn := env.connect(t)

	tests := []struct {
		sql     string
		version smarterid.Version
	}{
		{"SELECT uuid_generate_v1()", smarterid.VersionTimeBased},
		{"SELECT uuid_generate_v1mc()", smarterid.VersionTimeBased},
		{"SELECT uuid_generate_v4()", smarterid.VersionRandom},
		{"SELECT gen_random_uuid()", smarterid.VersionRandom},
	}
	for _, tt := range tests {
		u, err := smarterid.Parse(queryString(t, conn, tt.sql))
		if err != nil {
			t.Fatalf("%s returned an unparsable UUID: %v", tt.sql, err)
		}
		if u.Version() != tt.version {
			t.Errorf("%s version = %v, want %v", tt.sql, u.Version(), tt.version)
		}
		if err := u.Validate(); err != nil {
			t.Errorf("%s: %v", tt.sql, err)
		}
	}

	var version int
	err := conn.QueryRow(context.Background(),
		"SELECT uuid_version('2ed6657d-e927-568b-95e1-2665a8aea6a2')",
		pgx.QueryExecModeSimpleProtocol,
	).Scan(&version)
	if err != nil {
		t.Fatalf("uuid_version failed: %v", err)
	}
	if version != 5 {
		t.Errorf("uuid_version = %d, want 5", version)
	}
}

func TestV1StatePersisted(t *testing.T) {
	env := setupTest(t)
	conn := env.connect(t)

	u := smarterid.MustParse(queryString(t, conn, "SELECT uuid_generate_v1()"))

	data, err := os.ReadFile(filepath.Join(env.dataDir, filepath.FromSlash(smarterid.DefaultStateKey)))
	if err != nil {
		t.Fatalf("State file not created: %v", err)
	}

	var state smarterid.State
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("Invalid state JSON: %v", err)
	}
	if state.LastTimestamp != u.Timestamp() {
		t.Errorf("state timestamp = %d, uuid timestamp = %d", state.LastTimestamp, u.Timestamp())
	}
	if state.ClockSequence != u.ClockSequence() {
		t.Errorf("state clock sequence = %d, uuid clock sequence = %d", state.ClockSequence, u.ClockSequence())
	}
	if state.Node != u.Node() {
		t.Errorf("state node = %s, uuid node = %s", state.Node, u.Node())
	}
}

func TestConcurrentConnectionsUnique(t *testing.T) {
	env := setupTest(t)

	const clients, perClient = 4, 50
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	conns := make([]*pgx.Conn, clients)
	for i := range conns {
		conns[i] = env.connect(t)
	}

	errs := make(chan error, clients)
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *pgx.Conn) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				var s string
				err := conn.QueryRow(context.Background(), "SELECT uuid_generate_v1()", pgx.QueryExecModeSimpleProtocol).Scan(&s)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				seen[s] = true
				mu.Unlock()
			}
		}(conn)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("query failed: %v", err)
	}
	if len(seen) != clients*perClient {
		t.Errorf("got %d unique UUIDs, want %d", len(seen), clients*perClient)
	}
}

func TestErrorsOverWire(t *testing.T) {
	env := setupTest(t)
	conn := env.connect(t)

	var s string
	err := conn.QueryRow(context.Background(), "SELECT uuid_version('not-a-uuid')", pgx.QueryExecModeSimpleProtocol).Scan(&s)

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected a PgError, got %v", err)
	}
	if pgErr.Code != executor.CodeInvalidText {
		t.Errorf("code = %s, want %s", pgErr.Code, executor.CodeInvalidText)
	}

	// Prepared statements use the extended protocol, which the server declines.
	err = conn.QueryRow(context.Background(), "SELECT uuid_generate_v4()").Scan(&s)
	if !errors.As(err, &pgErr) || pgErr.Code != executor.CodeFeatureUnsupported {
		t.Errorf("expected feature_not_supported, got %v", err)
	}

	// The connection is still usable.
	if got := queryString(t, conn, "SELECT uuid_nil()"); got != "00000000-0000-0000-0000-000000000000" {
		t.Errorf("uuid_nil() = %s", got)
	}
}
