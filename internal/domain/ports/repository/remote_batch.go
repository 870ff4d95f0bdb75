package repository

import (
	"context"
	"time"

	"content-batch-pipeline/internal/domain/model"
)

// RemoteBatchRepository is the local display mirror of remote batch handles.
type RemoteBatchRepository interface {
	Upsert(ctx context.Context, h *model.RemoteBatchHandle) error
	FindByID(ctx context.Context, batchID string) (*model.RemoteBatchHandle, error)
	ListByStatus(ctx context.Context, statuses ...model.BatchStatus) ([]*model.RemoteBatchHandle, error)
	MarkReconciled(ctx context.Context, batchID string, at time.Time) error
}
