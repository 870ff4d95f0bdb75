package adapter

import (
	"context"
	"io"
)

// ArtifactStore keeps copies of written chunk parts.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, r io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}
