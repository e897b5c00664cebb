// Package smarterid generates, parses and inspects RFC 4122 UUIDs.
//
// # Overview
//
// A UUID is a 128-bit value with a fixed field layout. smarterid provides:
//
//   - A layout engine that reads and writes every RFC 4122 field
//   - Version 1 (time-based), 3 (MD5 name-based), 4 (random) and 5 (SHA-1 name-based) generators
//   - A strict codec for the canonical 36-character text form
//   - Version 1 state persistence on filesystem, S3, MinIO or GCS backends
//   - Cross-process coordination through Redis (shared clock sequence, state lock)
//   - Full observability (Prometheus metrics + structured logging)
//
// # Quick Start
//
// Package-level helpers use a lazily built default generator:
//
//	id := smarterid.MustNewV4()
//	fmt.Println(id) // e.g. 1b4e28ba-2fa1-4d2e-883f-0016d3cca427
//
//	dns := smarterid.NewV5(smarterid.NamespaceDNS, "www.example.com")
//	// 2ed6657d-e927-568b-95e1-2665a8aea6a2
//
//	u, err := smarterid.Parse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(u.Version(), u.Variant(), u.Timestamp().Time())
//
// Production setup with S3 state, Redis coordination and observability:
//
//	redisClient := redis.NewClient(smarterid.RedisOptions())
//	lock := smarterid.NewDistributedLock(redisClient, "smarterid")
//
//	backend, err := smarterid.NewBackend(ctx, smarterid.BackendConfig{
//	    Type:   smarterid.BackendS3,
//	    Bucket: "my-bucket",
//	    Region: "us-east-1",
//	})
//
//	logger, _ := smarterid.NewProductionZapLogger("info")
//	metrics := smarterid.NewPrometheusMetrics(prometheus.NewRegistry())
//
//	gen, err := smarterid.NewGenerator(
//	    smarterid.WithLogger(logger),
//	    smarterid.WithMetrics(metrics),
//	    smarterid.WithClockSequencer(smarterid.NewRedisClockSequencer(redisClient, "", logger, metrics)),
//	    smarterid.WithStateStore(smarterid.NewBackendStateStore(backend,
//	        smarterid.WithStateLock(lock, smarterid.DefaultLockTTL),
//	        smarterid.WithStateLogger(logger),
//	        smarterid.WithStateMetrics(metrics),
//	    )),
//	)
//	defer gen.Flush(ctx)
//
// # Core Concepts
//
// UUID: A [16]byte in network byte order. Fields, Version, Variant, Timestamp,
// ClockSequence and Node read the layout; Build and the New* constructors write it.
//
// Generator: Issues UUIDs of every supported version. Version 1 generation
// keeps the last timestamp and clock sequence in memory and, when a StateStore
// is configured, on a Backend so that restarts never repeat a UUID.
//
// Backend: Storage abstraction supporting S3, GCS, filesystem and MinIO.
// State saves use PutIfMatch so concurrent writers detect each other.
//
// Sources: ClockSource, NodeSource and ClockSequencer are injectable so that
// tests and multi-process deployments control time, node id and clock sequence.
//
// # Version 1 State
//
// The generator follows RFC 4122 section 4.2.1:
//
//   - When the clock does not advance, the clock sequence is incremented
//   - When no state exists or the node changed, a fresh clock sequence is drawn
//   - When a save conflicts with another writer, the clock sequence is redrawn
//
// Saves happen at most once per StateSaveInterval; call Flush before exit.
//
// # Error Handling
//
// Errors wrap sentinel values usable with errors.Is:
//
//	u, err := smarterid.Parse(s)
//	if errors.Is(err, smarterid.ErrInvalidFormat) {
//	    // reject input
//	}
//
//	if smarterid.IsRetryable(err) {
//	    // state conflict or backend outage, retry with backoff
//	}
//
// # Observability
//
// Metrics are named smarterid.* (smarterid_* in Prometheus) and carry low-cardinality labels (version,
// reason, operation, source). See metrics.go for the full list.
//
// # Simple API
//
// Package simple wires a generator from environment variables and stamps IDs
// onto structs via struct tags:
//
//	db := simple.MustConnect()
//	defer db.Close()
//	users := simple.NewCollection[User](db)
//
// # SQL Interface
//
// cmd/smarterid serve exposes the uuid-ossp functions (uuid_generate_v1,
// uuid_generate_v4, uuid_ns_dns, ...) over the PostgreSQL wire protocol so any
// Postgres client can mint IDs.
package smarterid
