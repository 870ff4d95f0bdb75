package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
)

var _ repository.ContentRepository = (*ContentStore)(nil)

// ContentStore writes one file per record at dir/<scope>/<slug>.json. A
// record is written to a temp file and hard-linked into place, so the link
// is the natural-key constraint and a key file is never partially written.
type ContentStore struct {
	dir string
}

func NewContentStore(dir string) (*ContentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &ContentStore{dir: dir}, nil
}

func (s *ContentStore) path(scopeID, slug string) (string, error) {
	for _, part := range []string{scopeID, slug} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: content key %q/%q", domain.ErrInvalidArgument, scopeID, slug)
		}
	}
	return filepath.Join(s.dir, scopeID, slug+".json"), nil
}

func (s *ContentStore) Upsert(_ context.Context, _ repository.Tx, c *model.GeneratedContent) (string, bool, error) {
	p, err := s.path(c.ScopeID, c.Slug)
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", false, err
	}
	rec := *c
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", false, err
	}

	tmp, err := writeTemp(p, b, 0o644)
	if err != nil {
		return "", false, err
	}
	defer os.Remove(tmp)

	// link is create-if-absent: readers only ever see a complete record
	err = os.Link(tmp, p)
	if errors.Is(err, fs.ErrExist) {
		existing, rerr := s.read(p)
		if rerr == nil {
			return existing.ID, false, nil
		}
		if !errors.Is(rerr, domain.ErrReadDatabaseRow) {
			return "", false, rerr
		}
		// a record that does not decode was left by an interrupted writer
		if err := os.Rename(tmp, p); err != nil {
			return "", false, err
		}
		syncDir(filepath.Dir(p))
		c.ID = rec.ID
		return rec.ID, true, nil
	}
	if err != nil {
		return "", false, err
	}
	syncDir(filepath.Dir(p))
	c.ID = rec.ID
	return rec.ID, true, nil
}

func (s *ContentStore) read(p string) (*model.GeneratedContent, error) {
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c model.GeneratedContent
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrReadDatabaseRow, p, err)
	}
	return &c, nil
}

func (s *ContentStore) FindByKey(_ context.Context, _ repository.Tx, scopeID, slug string) (*model.GeneratedContent, error) {
	p, err := s.path(scopeID, slug)
	if err != nil {
		return nil, err
	}
	return s.read(p)
}

func (s *ContentStore) CountByScope(_ context.Context, _ repository.Tx, scopeID string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, scopeID))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}
