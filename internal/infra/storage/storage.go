// Package storage holds the artifact stores chunk parts are archived to.
package storage

import (
	"context"
	"fmt"
	"io"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

// New builds the store selected by cfg.Driver. The returned closer releases
// client resources and is never nil.
func New(ctx context.Context, cfg config.StorageConfig) (adapter.ArtifactStore, io.Closer, error) {
	switch cfg.Driver {
	case "", "local":
		s, err := NewLocalStore(cfg.Dir)
		return s, nopCloser{}, err
	case "gcs":
		s, err := NewGCSStore(ctx, cfg)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return s, s, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
