package repository

import (
	"context"

	"content-batch-pipeline/internal/domain/model"
)

// JobRepository persists job progress. Checkpoint is additive and must be
// durable when it returns.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	Load(ctx context.Context, jobID string) (*model.Job, error)
	Checkpoint(ctx context.Context, jobID string, processed, failed []string) error
	MarkStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error
	SetTotal(ctx context.Context, jobID string, total int) error
	// ClaimNext returns the oldest processing job, else promotes the oldest
	// pending one. domain.ErrNotFound when there is nothing to do.
	ClaimNext(ctx context.Context) (*model.Job, error)
	// Requeue removes the failed IDs from both sets and returns them.
	Requeue(ctx context.Context, jobID string) ([]string, error)
	List(ctx context.Context, status model.JobStatus, limit int) ([]*model.Job, error)
}
