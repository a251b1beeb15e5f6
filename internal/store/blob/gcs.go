package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is a Google Cloud Storage-backed Store, an alternate backend
// alongside S3Store/FileStore.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore builds a GCS-backed Store using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("new gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(contentKey string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + contentKey + ".pdf")
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	contentKey := KeyOf(data)

	if _, err := s.object(contentKey).Attrs(ctx); err == nil {
		return contentKey, nil
	}

	w := s.object(contentKey).NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close: %w", err)
	}
	return contentKey, nil
}

func (s *GCSStore) Get(ctx context.Context, contentKey string) ([]byte, error) {
	r, err := s.object(contentKey).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get %s: %w", contentKey, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, contentKey string) (bool, error) {
	_, err := s.object(contentKey).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs: %w", err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, contentKey string) error {
	err := s.object(contentKey).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", contentKey, err)
	}
	return nil
}
