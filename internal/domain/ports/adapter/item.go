package adapter

import (
	"context"

	"content-batch-pipeline/internal/domain/model"
)

// ItemAPI performs the downstream call for one work item.
type ItemAPI interface {
	Call(ctx context.Context, item model.WorkItem) error
}

// ItemSource enumerates a job's items in a stable order. Records that cannot
// be turned into items are returned as rejects; the error is reserved for a
// source that cannot be read at all.
type ItemSource interface {
	Items(ctx context.Context, source string) ([]model.WorkItem, []model.RejectedItem, error)
}
