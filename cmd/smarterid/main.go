// smarterid - RFC 4122 UUID generator
//
// Generate and inspect UUIDs from the command line, or serve the uuid-ossp
// functions over the PostgreSQL wire protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adrianmcphee/smarterid"
	"github.com/adrianmcphee/smarterid/internal/executor"
	"github.com/adrianmcphee/smarterid/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "smarterid:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printHelp(stdout)
		return nil
	}

	switch args[0] {
	case "gen":
		return runGen(args[1:], stdout)
	case "inspect":
		return runInspect(args[1:], stdout)
	case "serve":
		return runServe(args[1:])
	case "help", "--help", "-h":
		printHelp(stdout)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `smarterid - RFC 4122 UUID generator

Usage:
  smarterid gen [flags]            Print new UUIDs
  smarterid inspect <uuid>...      Decode UUID fields
  smarterid serve [flags]          Serve uuid-ossp functions over the PostgreSQL protocol

Gen flags:
  -v int         UUID version: 1, 3, 4 or 5 (default 4)
  -ns string     Namespace for versions 3 and 5: dns, url, oid, x500, nil or a UUID (default "dns")
  -name string   Name for versions 3 and 5
  -n int         Number of UUIDs (default 1)
  -data string   Directory holding version 1 state (default: no state)
  -node string   Node mode: hardware, random or static:<mac> (default "hardware")

Serve flags:
  -addr string          Listen address (default ":5433")
  -metrics-addr string  Prometheus /metrics address (default: disabled)
  -backend string       State backend: filesystem, s3, minio or gcs (default "filesystem")
  -data string          Directory or bucket holding version 1 state (default "./data")
  -region string        S3 region
  -endpoint string      S3-compatible or GCS endpoint
  -redis string         Redis address for the shared clock sequence and state lock
  -node string          Node mode (default "hardware")
  -log-level string     debug, info, warn or error (default "info")`)
}

// genOptions holds the flags shared by every command that builds a generator.
type genOptions struct {
	backend   string
	data      string
	region    string
	endpoint  string
	redisAddr string
	node      string
	interval  time.Duration
}

func (o genOptions) generatorConfig() (smarterid.GeneratorConfig, error) {
	cfg := smarterid.DefaultGeneratorConfig()
	cfg.StateSaveInterval = o.interval

	mode, static, _ := strings.Cut(o.node, ":")
	switch mode {
	case "", smarterid.NodeModeHardware:
	case smarterid.NodeModeRandom:
		cfg.NodeMode = smarterid.NodeModeRandom
	case smarterid.NodeModeStatic:
		cfg.NodeMode = smarterid.NodeModeStatic
		cfg.StaticNode = static
	default:
		cfg.NodeMode = mode
	}
	return cfg, cfg.Validate()
}

// buildGenerator wires the generator and returns a cleanup func that flushes
// state and closes clients.
func buildGenerator(ctx context.Context, o genOptions, logger smarterid.Logger, metrics smarterid.Metrics) (*smarterid.Generator, func(), error) {
	cfg, err := o.generatorConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := []smarterid.Option{
		smarterid.WithConfig(cfg),
		smarterid.WithLogger(logger),
		smarterid.WithMetrics(metrics),
	}
	var closers []func()

	var lock *smarterid.DistributedLock
	if o.redisAddr != "" {
		client := redis.NewClient(smarterid.RedisOptionsWithOverrides(o.redisAddr, "", 0, 0))
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", o.redisAddr, err)
		}
		lock = smarterid.NewDistributedLockWithOwnedClient(client, "smarterid").WithMetrics(metrics)
		closers = append(closers, func() { lock.Close() })
		opts = append(opts, smarterid.WithClockSequencer(
			smarterid.NewResilientRedisClockSequencer(client, smarterid.DefaultClockSequenceKey, logger, metrics),
		))
	}

	if o.data != "" {
		backend, err := smarterid.NewBackend(ctx, smarterid.BackendConfig{
			Type:     o.backend,
			Bucket:   o.data,
			Region:   o.region,
			Endpoint: o.endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		if o.backend == smarterid.BackendFilesystem {
			if err := os.MkdirAll(o.data, smarterid.DefaultDirPermissions); err != nil {
				return nil, nil, err
			}
		}
		if err := backend.Ping(ctx); err != nil {
			backend.Close()
			return nil, nil, err
		}
		closers = append(closers, func() { backend.Close() })

		storeOpts := []smarterid.StateStoreOption{
			smarterid.WithStateKey(cfg.StateKey),
			smarterid.WithStateLogger(logger),
			smarterid.WithStateMetrics(metrics),
		}
		if lock != nil {
			storeOpts = append(storeOpts, smarterid.WithStateLock(lock, cfg.LockTTL))
		}
		opts = append(opts, smarterid.WithStateStore(smarterid.NewBackendStateStore(backend, storeOpts...)))
	}

	gen, err := smarterid.NewGenerator(opts...)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if err := gen.Flush(context.Background()); err != nil {
			logger.Warn("failed to flush generator state", "error", err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return gen, cleanup, nil
}

func runGen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	version := fs.Int("v", 4, "UUID version")
	ns := fs.String("ns", "dns", "namespace for versions 3 and 5")
	name := fs.String("name", "", "name for versions 3 and 5")
	n := fs.Int("n", 1, "number of UUIDs")
	var o genOptions
	fs.StringVar(&o.data, "data", "", "directory holding version 1 state")
	fs.StringVar(&o.node, "node", smarterid.NodeModeHardware, "node mode")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o.backend = smarterid.BackendFilesystem

	if *n < 1 {
		return fmt.Errorf("-n must be positive")
	}
	namespace, err := parseNamespace(*ns)
	if err != nil {
		return err
	}

	ctx := context.Background()
	gen, cleanup, err := buildGenerator(ctx, o, &smarterid.NoOpLogger{}, &smarterid.NoOpMetrics{})
	if err != nil {
		return err
	}
	defer cleanup()

	p := smarterid.Params{Version: smarterid.Version(*version), Namespace: namespace, Name: []byte(*name)}
	for i := 0; i < *n; i++ {
		u, err := gen.Generate(ctx, p)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, u)
	}
	return nil
}

func parseNamespace(s string) (smarterid.UUID, error) {
	switch strings.ToLower(s) {
	case "dns":
		return smarterid.NamespaceDNS, nil
	case "url":
		return smarterid.NamespaceURL, nil
	case "oid":
		return smarterid.NamespaceOID, nil
	case "x500":
		return smarterid.NamespaceX500, nil
	case "nil":
		return smarterid.Nil, nil
	}
	u, err := smarterid.Parse(s)
	if err != nil {
		return smarterid.Nil, fmt.Errorf("namespace: %w", err)
	}
	return u, nil
}

func runInspect(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("inspect needs at least one UUID")
	}
	for _, arg := range args {
		u, err := smarterid.Parse(arg)
		if err != nil {
			return err
		}
		writeInspection(stdout, u)
	}
	return nil
}

func writeInspection(w io.Writer, u smarterid.UUID) {
	fmt.Fprintf(w, "uuid:      %s\n", u)
	fmt.Fprintf(w, "version:   %s\n", u.Version())
	fmt.Fprintf(w, "variant:   %s\n", u.Variant())
	if u.Version() == smarterid.VersionTimeBased {
		fmt.Fprintf(w, "time:      %s\n", u.Timestamp().Time().UTC().Format(time.RFC3339Nano))
		fmt.Fprintf(w, "clock_seq: %d\n", u.ClockSequence())
		fmt.Fprintf(w, "node:      %s\n", u.Node())
	}
	if err := u.Validate(); err != nil {
		fmt.Fprintf(w, "valid:     no (%v)\n", err)
	} else {
		fmt.Fprintln(w, "valid:     yes")
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":5433", "listen address")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus /metrics address")
	logLevel := fs.String("log-level", "info", "log level")
	o := genOptions{interval: smarterid.DefaultStateSaveInterval}
	fs.StringVar(&o.backend, "backend", smarterid.BackendFilesystem, "state backend")
	fs.StringVar(&o.data, "data", "./data", "directory or bucket holding version 1 state")
	fs.StringVar(&o.region, "region", "", "S3 region")
	fs.StringVar(&o.endpoint, "endpoint", "", "S3-compatible or GCS endpoint")
	fs.StringVar(&o.redisAddr, "redis", "", "Redis address")
	fs.StringVar(&o.node, "node", smarterid.NodeModeHardware, "node mode")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := smarterid.NewProductionZapLogger(*logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	metrics := smarterid.NewPrometheusMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, cleanup, err := buildGenerator(ctx, o, logger, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	node, err := gen.Node(ctx)
	if err != nil {
		return err
	}
	logger.Info("generator ready", "node", node.String(), "backend", o.backend, "data", o.data)

	exec, err := executor.NewExecutor(gen, executor.WithLogger(logger), executor.WithMetrics(metrics))
	if err != nil {
		return err
	}
	server := protocol.NewServer(*addr, exec, logger)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsServer.Close()
		logger.Info("metrics listening", "addr", *metricsAddr)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return server.Close()
	}
}
