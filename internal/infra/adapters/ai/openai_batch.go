package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.BatchService = (*OpenAIBatchService)(nil)

// OpenAIBatchService implements adapter.BatchService on the Files and
// Batches APIs.
type OpenAIBatchService struct {
	client openai.Client
	log    *zerolog.Logger
}

func NewOpenAIBatchService(cfg config.BatchConfig, logger *zerolog.Logger) (*OpenAIBatchService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	l := logger.With().Str("component", "OpenAIBatchService").Logger()
	return &OpenAIBatchService{client: openai.NewClient(opts...), log: &l}, nil
}

func (s *OpenAIBatchService) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	f, err := s.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(content, name, "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", mapAPIError(err)
	}
	s.log.Debug().Str("file_id", f.ID).Str("name", name).Int64("bytes", f.Bytes).Msg("input file uploaded")
	return f.ID, nil
}

func (s *OpenAIBatchService) CreateBatch(ctx context.Context, req adapter.CreateBatchRequest) (*model.RemoteBatchHandle, error) {
	b, err := s.client.Batches.New(ctx, openai.BatchNewParams{
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
		Endpoint:         openai.BatchNewParamsEndpoint(req.Endpoint),
		InputFileID:      req.InputRef,
		Metadata:         shared.Metadata(req.Metadata),
	})
	if err != nil {
		return nil, mapAPIError(err)
	}
	return toHandle(b), nil
}

func (s *OpenAIBatchService) GetBatch(ctx context.Context, batchID string) (*model.RemoteBatchHandle, error) {
	b, err := s.client.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, mapAPIError(err)
	}
	return toHandle(b), nil
}

// ListBatches pages through every batch; the API has no status filter.
func (s *OpenAIBatchService) ListBatches(ctx context.Context, statuses ...model.BatchStatus) ([]model.RemoteBatchHandle, error) {
	want := make(map[model.BatchStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	iter := s.client.Batches.ListAutoPaging(ctx, openai.BatchListParams{Limit: openai.Int(100)})
	var out []model.RemoteBatchHandle
	for iter.Next() {
		b := iter.Current()
		h := toHandle(&b)
		if len(want) == 0 || want[h.Status] {
			out = append(out, *h)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, mapAPIError(err)
	}
	return out, nil
}

func (s *OpenAIBatchService) DownloadFile(ctx context.Context, fileRef string) (io.ReadCloser, error) {
	resp, err := s.client.Files.Content(ctx, fileRef)
	if err != nil {
		return nil, mapAPIError(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, &domain.ItemError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return resp.Body, nil
}

func (s *OpenAIBatchService) CancelBatch(ctx context.Context, batchID string) (*model.RemoteBatchHandle, error) {
	b, err := s.client.Batches.Cancel(ctx, batchID)
	if err != nil {
		return nil, mapAPIError(err)
	}
	return toHandle(b), nil
}

func toHandle(b *openai.Batch) *model.RemoteBatchHandle {
	h := &model.RemoteBatchHandle{
		BatchID:   b.ID,
		InputRef:  b.InputFileID,
		Endpoint:  b.Endpoint,
		Status:    model.BatchStatus(b.Status),
		OutputRef: b.OutputFileID,
		ErrorRef:  b.ErrorFileID,
		RequestCounts: model.RequestCounts{
			Total:     int(b.RequestCounts.Total),
			Completed: int(b.RequestCounts.Completed),
			Failed:    int(b.RequestCounts.Failed),
		},
		CreatedAt: time.Unix(b.CreatedAt, 0).UTC(),
	}
	if len(b.Metadata) > 0 {
		h.Metadata = make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			h.Metadata[k] = v
		}
	}
	return h
}

// mapAPIError keeps the HTTP status visible to retry classification and maps
// 404 to domain.ErrNotFound.
func mapAPIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, apiErr.Message)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	return &domain.ItemError{StatusCode: apiErr.StatusCode, Message: msg}
}
