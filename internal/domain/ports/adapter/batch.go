package adapter

import (
	"context"
	"io"

	"content-batch-pipeline/internal/domain/model"
)

type CreateBatchRequest struct {
	InputRef string
	Endpoint string
	Metadata map[string]string
}

// BatchService is the external asynchronous batch-processing service.
type BatchService interface {
	Upload(ctx context.Context, name string, content io.Reader) (fileRef string, err error)
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*model.RemoteBatchHandle, error)
	GetBatch(ctx context.Context, batchID string) (*model.RemoteBatchHandle, error)
	// ListBatches returns handles whose status is one of statuses, or all when empty.
	ListBatches(ctx context.Context, statuses ...model.BatchStatus) ([]model.RemoteBatchHandle, error)
	DownloadFile(ctx context.Context, fileRef string) (io.ReadCloser, error)
	CancelBatch(ctx context.Context, batchID string) (*model.RemoteBatchHandle, error)
}
