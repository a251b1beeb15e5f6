package blob

import (
	"context"
	"fmt"
)

// Config mirrors the relevant subset of internal/config.Config needed to
// select a blob backend, keeping this package independent of the config
// package's import path.
type Config struct {
	StorageType string // "fs" (default), "s3", "gcs"
	Dir         string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	GCSBucket   string
}

// NewFromConfig builds the Store named by cfg.StorageType.
func NewFromConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.StorageType {
	case "", "fs":
		dir := cfg.Dir
		if dir == "" {
			dir = "./pdfs"
		}
		return NewFileStore(dir)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for s3 storage")
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint})
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for gcs storage")
		}
		return NewGCSStore(ctx, GCSConfig{Bucket: cfg.GCSBucket})
	default:
		return nil, fmt.Errorf("unsupported blob storage type: %s", cfg.StorageType)
	}
}
