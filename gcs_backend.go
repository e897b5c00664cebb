package smarterid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBackend implements Backend using Google Cloud Storage
type GCSBackend struct {
	client *storage.Client
	bucket string
}

// GCSConfig contains GCS-specific configuration
type GCSConfig struct {
	ProjectID       string
	Bucket          string
	CredentialsFile string // Path to service account JSON file (optional, uses ADC if empty)
	Endpoint        string // Optional API endpoint, e.g. for the fake-gcs-server emulator
}

// NewGCSBackend creates a new GCS backend
func NewGCSBackend(ctx context.Context, cfg GCSConfig) (*GCSBackend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSBackend{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, _, err := b.GetWithETag(ctx, key)
	return data, err
}

func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	obj := b.client.Bucket(b.bucket).Object(key)
	writer := obj.NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}

func (b *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetWithETag uses the object generation as the ETag. The read is pinned to
// that generation so data and ETag always agree.
func (b *GCSBackend) GetWithETag(ctx context.Context, key string) ([]byte, string, error) {
	obj := b.client.Bucket(b.bucket).Object(key)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}

	reader, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", err
	}

	return data, strconv.FormatInt(attrs.Generation, 10), nil
}

// PutIfMatch provides optimistic locking using GCS preconditions.
// An empty expectedETag maps to DoesNotExist.
func (b *GCSBackend) PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	obj := b.client.Bucket(b.bucket).Object(key)

	cond := storage.Conditions{DoesNotExist: true}
	if expectedETag != "" {
		gen, err := strconv.ParseInt(expectedETag, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid ETag format: %w", err)
		}
		cond = storage.Conditions{GenerationMatch: gen}
	}

	writer := obj.If(cond).NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", err
	}

	if err := writer.Close(); err != nil {
		if strings.Contains(err.Error(), "conditionNotMet") || strings.Contains(err.Error(), "precondition") {
			return "", WithContext(ErrConflict, map[string]interface{}{
				"key":      key,
				"expected": expectedETag,
			})
		}
		return "", err
	}

	return strconv.FormatInt(writer.Attrs().Generation, 10), nil
}

func (b *GCSBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Bucket(b.bucket).Attrs(ctx); err != nil {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"bucket": b.bucket,
			"error":  err.Error(),
		})
	}
	return nil
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}
