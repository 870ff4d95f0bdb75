package ai

import (
	"context"

	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ItemAPI = (*limitedItemAPI)(nil)

// limitedItemAPI caps concurrent downstream calls when several jobs run in
// one process. The sliding window still decides the request rate.
type limitedItemAPI struct {
	inner adapter.ItemAPI
	sem   chan struct{}
}

func NewLimitedItemAPI(inner adapter.ItemAPI, maxConcurrent int) adapter.ItemAPI {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedItemAPI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedItemAPI) Call(ctx context.Context, item model.WorkItem) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Call(ctx, item)
}
