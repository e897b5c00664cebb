package simple

import (
	"context"
	"fmt"
	"os"

	"github.com/adrianmcphee/smarterid"
	"github.com/redis/go-redis/v9"
)

// DB is the simple API entry point.
// It wraps a Generator with state and Redis wiring picked from the environment.
//
// Example:
//
//	db, err := simple.Connect()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
type DB struct {
	gen         *smarterid.Generator
	backend     smarterid.Backend
	redisClient *redis.Client
	lock        *smarterid.DistributedLock
	ownsRedis   bool
	logger      smarterid.Logger
	metrics     smarterid.Metrics
	config      smarterid.GeneratorConfig
}

// Option is a functional option for configuring DB.
type Option func(*DB) error

// Connect creates a new DB with auto-detected configuration.
//
// Environment variables:
//   - SMARTERID_DATA: directory for version 1 state (default: no state)
//   - SMARTERID_NODE: node mode, hardware, random or static (default: hardware)
//   - REDIS_ADDR: Redis address; when set and reachable, clock sequences and
//     state saves are coordinated through Redis
//
// Example:
//
//	db, err := simple.Connect()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
func Connect(opts ...Option) (*DB, error) {
	db := &DB{
		logger:  &smarterid.NoOpLogger{},
		metrics: &smarterid.NoOpMetrics{},
		config:  smarterid.DefaultGeneratorConfig(),
	}
	if mode := os.Getenv("SMARTERID_NODE"); mode != "" {
		db.config.NodeMode = mode
	}

	if dataPath := os.Getenv("SMARTERID_DATA"); dataPath != "" {
		if err := os.MkdirAll(dataPath, smarterid.DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db.backend = smarterid.NewFilesystemBackend(dataPath)
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	// Redis is optional - continue without it if it is not reachable
	if db.redisClient == nil {
		if err := db.setupRedis(); err != nil {
			db.logger.Debug("redis disabled", "error", err)
		}
	}

	if db.gen == nil {
		if err := db.buildGenerator(); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

// MustConnect is like Connect but panics on error.
// Use this for demos, prototypes, and when failure should crash the app.
func MustConnect(opts ...Option) *DB {
	db, err := Connect(opts...)
	if err != nil {
		panic(fmt.Sprintf("simple.MustConnect failed: %v", err))
	}
	return db
}

func (db *DB) buildGenerator() error {
	genOpts := []smarterid.Option{
		smarterid.WithConfig(db.config),
		smarterid.WithLogger(db.logger),
		smarterid.WithMetrics(db.metrics),
	}

	if db.redisClient != nil {
		genOpts = append(genOpts, smarterid.WithClockSequencer(
			smarterid.NewResilientRedisClockSequencer(db.redisClient, smarterid.DefaultClockSequenceKey, db.logger, db.metrics),
		))
	}

	if db.backend != nil {
		storeOpts := []smarterid.StateStoreOption{
			smarterid.WithStateKey(db.config.StateKey),
			smarterid.WithStateLogger(db.logger),
			smarterid.WithStateMetrics(db.metrics),
		}
		if db.lock != nil {
			storeOpts = append(storeOpts, smarterid.WithStateLock(db.lock, db.config.LockTTL))
		}
		genOpts = append(genOpts, smarterid.WithStateStore(smarterid.NewBackendStateStore(db.backend, storeOpts...)))
	}

	gen, err := smarterid.NewGenerator(genOpts...)
	if err != nil {
		return err
	}
	db.gen = gen
	return nil
}

// Close flushes generator state and closes all underlying resources.
func (db *DB) Close() error {
	var errs []error

	if db.gen != nil && db.backend != nil {
		if err := db.gen.Flush(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("flush state: %w", err))
		}
	}

	if db.backend != nil {
		if err := db.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend close: %w", err))
		}
	}

	if db.redisClient != nil && db.ownsRedis {
		if err := db.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}

	return nil
}

// Generator returns the underlying generator.
// Use this to drop down to the full API when needed.
func (db *DB) Generator() *smarterid.Generator {
	return db.gen
}

// Lock returns the distributed lock manager, nil without Redis.
func (db *DB) Lock() *smarterid.DistributedLock {
	return db.lock
}

// NewV1 returns a time-based UUID string, retrying state conflicts.
func (db *DB) NewV1(ctx context.Context) (string, error) {
	u, err := db.gen.V1WithRetry(ctx, smarterid.DefaultRetryConfig())
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// NewV4 returns a random UUID string.
func (db *DB) NewV4() (string, error) {
	u, err := db.gen.V4()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// NameID returns the version 5 UUID string of name in namespace.
func (db *DB) NameID(namespace smarterid.UUID, name string) string {
	return db.gen.V5(namespace, []byte(name)).String()
}

// setupRedis connects to REDIS_ADDR when it is set.
func (db *DB) setupRedis() error {
	if os.Getenv("REDIS_ADDR") == "" {
		return fmt.Errorf("REDIS_ADDR not set")
	}

	client := redis.NewClient(smarterid.RedisOptions())
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis not available: %w", err)
	}

	db.redisClient = client
	db.ownsRedis = true
	db.lock = smarterid.NewDistributedLock(client, "smarterid").WithMetrics(db.metrics)
	return nil
}

// Functional options

// WithGenerator uses gen as-is; state and Redis settings are ignored for it.
func WithGenerator(gen *smarterid.Generator) Option {
	return func(db *DB) error {
		if gen == nil {
			return fmt.Errorf("generator cannot be nil")
		}
		db.gen = gen
		return nil
	}
}

// WithBackend stores version 1 state on backend.
func WithBackend(backend smarterid.Backend) Option {
	return func(db *DB) error {
		if db.backend != nil {
			db.backend.Close()
		}
		db.backend = backend
		return nil
	}
}

// WithRedis sets a custom Redis client. The caller keeps ownership of it.
func WithRedis(client *redis.Client) Option {
	return func(db *DB) error {
		db.redisClient = client
		db.ownsRedis = false
		db.lock = smarterid.NewDistributedLock(client, "smarterid")
		return nil
	}
}

// WithNodeMode overrides SMARTERID_NODE.
func WithNodeMode(mode string) Option {
	return func(db *DB) error {
		db.config.NodeMode = mode
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger smarterid.Logger) Option {
	return func(db *DB) error {
		if logger != nil {
			db.logger = logger
		}
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics smarterid.Metrics) Option {
	return func(db *DB) error {
		if metrics != nil {
			db.metrics = metrics
		}
		return nil
	}
}
