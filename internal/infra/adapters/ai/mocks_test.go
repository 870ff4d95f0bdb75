//go:build !integration

package ai

import (
	"context"
	"sync"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
)

type memContent struct {
	mu      sync.Mutex
	records map[string]*model.GeneratedContent
}

var _ repository.ContentRepository = (*memContent)(nil)

func newMemContent() *memContent {
	return &memContent{records: make(map[string]*model.GeneratedContent)}
}

func (m *memContent) Upsert(_ context.Context, _ repository.Tx, c *model.GeneratedContent) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.ScopeID + "/" + c.Slug
	if existing, ok := m.records[key]; ok {
		return existing.ID, false, nil
	}
	cp := *c
	cp.ID = key
	m.records[key] = &cp
	return cp.ID, true, nil
}

func (m *memContent) FindByKey(_ context.Context, _ repository.Tx, scopeID, slug string) (*model.GeneratedContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[scopeID+"/"+slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (m *memContent) CountByScope(_ context.Context, _ repository.Tx, scopeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.records {
		if c.ScopeID == scopeID {
			n++
		}
	}
	return n, nil
}

type blockingAPI struct {
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
}

func (b *blockingAPI) Call(ctx context.Context, _ model.WorkItem) error {
	b.mu.Lock()
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return nil
}
