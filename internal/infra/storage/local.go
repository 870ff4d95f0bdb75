package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/infra/checkpoint"
)

// Compile-time check
var _ adapter.ArtifactStore = (*LocalStore)(nil)

// LocalStore keeps artifacts under a base directory; keys map to relative paths.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, errors.New("local artifact store: base dir must be set")
	}
	info, err := os.Stat(baseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create base dir %s: %w", baseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base dir %s: %w", baseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("base dir %s is not a directory", baseDir)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) Upload(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", key, err)
	}
	return checkpoint.WriteFileAtomic(path, data, 0o644)
}

func (s *LocalStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, key)
	}
	return f, err
}

// resolve keeps keys inside the base directory.
func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: artifact key %q", domain.ErrInvalidArgument, key)
	}
	return filepath.Join(s.baseDir, clean), nil
}
