package smarterid

import (
	"context"
	"fmt"
)

// Backend is the object storage used to persist generator state.
// Implementations exist for the local filesystem, S3, MinIO and GCS.
type Backend interface {
	// Object operations
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Conditional operations (for optimistic locking)
	// Returns ETag after successful put; an empty expectedETag means
	// "only if the key does not exist yet".
	PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (string, error)
	GetWithETag(ctx context.Context, key string) (data []byte, etag string, err error)

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// Backend types accepted by BackendConfig.Type.
const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
	BackendMinIO      = "minio"
	BackendGCS        = "gcs"
)

// BackendConfig holds configuration for any backend
type BackendConfig struct {
	Type       string            // "s3", "filesystem", "minio", "gcs"
	Bucket     string            // bucket or base directory
	Region     string            // AWS region (S3 only)
	Endpoint   string            // Custom endpoint (for S3-compatible services)
	PathPrefix string            // Optional prefix for all keys
	Options    map[string]string // Backend-specific options
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	if c.Type == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"reason": "backend type is required",
		})
	}
	if c.Bucket == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Bucket",
			"reason": "bucket/base path is required",
		})
	}

	// Type-specific validation
	switch c.Type {
	case BackendS3:
		if c.Region == "" && c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Region/Endpoint",
				"reason": "S3 backend requires either Region or Endpoint",
			})
		}
	case BackendMinIO:
		if c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Endpoint",
				"reason": "MinIO backend requires an endpoint",
			})
		}
	case BackendFilesystem, BackendGCS:
		// No additional validation needed
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}

	return nil
}

// NewBackend builds the backend described by cfg.
//
// Options understood per type:
//   - minio: "access_key", "secret_key", "use_ssl" ("true")
//   - gcs: "project_id", "credentials_file"
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Type {
	case BackendFilesystem:
		backend = NewFilesystemBackend(cfg.Bucket)
	case BackendS3:
		backend, err = NewS3BackendFromEnv(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint)
	case BackendMinIO:
		backend, err = NewMinIOBackend(MinIOConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.Options["access_key"],
			SecretAccessKey: cfg.Options["secret_key"],
			UseSSL:          cfg.Options["use_ssl"] == "true",
			Bucket:          cfg.Bucket,
		})
	case BackendGCS:
		backend, err = NewGCSBackend(ctx, GCSConfig{
			ProjectID:       cfg.Options["project_id"],
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.Options["credentials_file"],
			Endpoint:        cfg.Endpoint,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.Type, err)
	}

	if cfg.PathPrefix != "" {
		backend = &prefixedBackend{Backend: backend, prefix: cfg.PathPrefix}
	}
	return backend, nil
}

// prefixedBackend scopes every key under a fixed prefix.
type prefixedBackend struct {
	Backend
	prefix string
}

func (b *prefixedBackend) key(k string) string {
	return b.prefix + "/" + k
}

func (b *prefixedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return b.Backend.Get(ctx, b.key(key))
}

func (b *prefixedBackend) Put(ctx context.Context, key string, data []byte) error {
	return b.Backend.Put(ctx, b.key(key), data)
}

func (b *prefixedBackend) Delete(ctx context.Context, key string) error {
	return b.Backend.Delete(ctx, b.key(key))
}

func (b *prefixedBackend) Exists(ctx context.Context, key string) (bool, error) {
	return b.Backend.Exists(ctx, b.key(key))
}

func (b *prefixedBackend) PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	return b.Backend.PutIfMatch(ctx, b.key(key), data, expectedETag)
}

func (b *prefixedBackend) GetWithETag(ctx context.Context, key string) ([]byte, string, error) {
	return b.Backend.GetWithETag(ctx, b.key(key))
}
