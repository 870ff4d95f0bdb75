package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ArtifactStore = (*GCSStore)(nil)

// GCSStore archives artifacts as objects in one bucket under an optional prefix.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSStore uses Application Default Credentials unless a credentials file is set.
func NewGCSStore(ctx context.Context, cfg config.StorageConfig, opts ...option.ClientOption) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs artifact store: bucket must be set")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(key string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, key))
}

func (s *GCSStore) Upload(ctx context.Context, key string, r io.Reader) error {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = "application/jsonl"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *GCSStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", domain.ErrNotFound, s.bucket, key)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
