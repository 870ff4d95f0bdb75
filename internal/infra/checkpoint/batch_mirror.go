package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
)

var _ repository.RemoteBatchRepository = (*BatchMirror)(nil)

// BatchMirror keeps every known remote batch handle in one JSON file.
type BatchMirror struct {
	mu   sync.Mutex
	path string
}

func NewBatchMirror(dir string) (*BatchMirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror dir: %w", err)
	}
	return &BatchMirror{path: filepath.Join(dir, "batches.json")}, nil
}

func (m *BatchMirror) load() (map[string]*model.RemoteBatchHandle, error) {
	out := make(map[string]*model.RemoteBatchHandle)
	b, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptCheckpoint, m.path, err)
	}
	return out, nil
}

func (m *BatchMirror) save(hs map[string]*model.RemoteBatchHandle) error {
	b, err := json.MarshalIndent(hs, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(m.path, b, 0o644)
}

func (m *BatchMirror) Upsert(_ context.Context, h *model.RemoteBatchHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs, err := m.load()
	if err != nil {
		return err
	}
	cp := *h
	if prev, ok := hs[h.BatchID]; ok {
		if cp.ReconciledAt == nil {
			cp.ReconciledAt = prev.ReconciledAt
		}
		if cp.InputRef == "" {
			cp.InputRef = prev.InputRef
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = prev.CreatedAt
		}
	}
	hs[h.BatchID] = &cp
	return m.save(hs)
}

func (m *BatchMirror) FindByID(_ context.Context, batchID string) (*model.RemoteBatchHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs, err := m.load()
	if err != nil {
		return nil, err
	}
	h, ok := hs[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return h, nil
}

func (m *BatchMirror) ListByStatus(_ context.Context, statuses ...model.BatchStatus) ([]*model.RemoteBatchHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs, err := m.load()
	if err != nil {
		return nil, err
	}
	want := make(map[model.BatchStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*model.RemoteBatchHandle
	for _, h := range hs {
		if len(want) == 0 || want[h.Status] {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].BatchID < out[b].BatchID })
	return out, nil
}

func (m *BatchMirror) MarkReconciled(_ context.Context, batchID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs, err := m.load()
	if err != nil {
		return err
	}
	h, ok := hs[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	h.ReconciledAt = &at
	h.UpdatedAt = at
	return m.save(hs)
}
