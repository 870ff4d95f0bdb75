package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/domain/ports/repository"
	"content-batch-pipeline/internal/infra/logging"
	"content-batch-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ SubmitUseCase = (*submitUC)(nil)

type SubmitUseCase interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	// Cancel asks the service to stop a batch. The batch may still complete.
	Cancel(ctx context.Context, batchID string) (*model.RemoteBatchHandle, error)
	List(ctx context.Context, statuses ...model.BatchStatus) ([]model.RemoteBatchHandle, error)
}

type SubmitRequest struct {
	Chunk       model.Chunk
	JobID       string
	ContentType string
	OwnerScope  string
	Source      string
	// Endpoint overrides the configured default.
	Endpoint string
}

type SubmitResult struct {
	BatchID  string            `json:"batch_id"`
	InputRef string            `json:"input_ref"`
	Status   model.BatchStatus `json:"status"`
	Timeout  time.Duration     `json:"timeout"`
}

type SubmitterConfig struct {
	MaxConcurrent     int
	Endpoint          string
	UploadBaseTimeout time.Duration
	UploadPerMB       time.Duration
}

// UploadTimeout grows with the chunk: base plus perMB for every started MiB.
func (c SubmitterConfig) UploadTimeout(size int64) time.Duration {
	mb := (size + (1<<20 - 1)) >> 20
	return c.UploadBaseTimeout + time.Duration(mb)*c.UploadPerMB
}

type submitUC struct {
	svc     adapter.BatchService
	mirror  repository.RemoteBatchRepository
	cfg     SubmitterConfig
	log     *zerolog.Logger
	nowFunc func() time.Time
}

func NewSubmitUseCase(svc adapter.BatchService, mirror repository.RemoteBatchRepository, cfg SubmitterConfig, logger *zerolog.Logger) *submitUC {
	l := logger.With().Str("component", "Submitter").Logger()
	return &submitUC{svc: svc, mirror: mirror, cfg: cfg, log: &l, nowFunc: time.Now}
}

func (s *submitUC) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	defer logging.TraceDuration(s.log, "Submitter.Submit")()
	if req.Chunk.Path == "" {
		return nil, fmt.Errorf("%w: chunk path is required", domain.ErrInvalidArgument)
	}

	active, err := s.svc.ListBatches(ctx, model.ActiveBatchStatuses()...)
	if err != nil {
		metrics.IncBatchSubmission("error")
		return nil, fmt.Errorf("list active batches: %w", err)
	}
	if s.cfg.MaxConcurrent > 0 && len(active) >= s.cfg.MaxConcurrent {
		metrics.IncBatchSubmission("quota")
		s.log.Warn().Int("active", len(active)).Int("limit", s.cfg.MaxConcurrent).Msg("batch quota reached, not uploading")
		return nil, &domain.QuotaExceededError{Active: len(active), Limit: s.cfg.MaxConcurrent}
	}

	f, err := os.Open(req.Chunk.Path)
	if err != nil {
		return nil, fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat chunk: %w", err)
	}

	timeout := s.cfg.UploadTimeout(st.Size())
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadlineHit := func() bool {
		return errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	}

	inputRef, err := s.svc.Upload(sctx, filepath.Base(req.Chunk.Path), f)
	if err != nil {
		if deadlineHit() {
			metrics.IncBatchSubmission("upload_timeout")
			return nil, &domain.UploadTimeoutError{Path: req.Chunk.Path, Timeout: timeout, Err: err}
		}
		metrics.IncBatchSubmission("error")
		return nil, fmt.Errorf("upload %s: %w", req.Chunk.Path, err)
	}
	metrics.AddUploadBytes(st.Size())

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = s.cfg.Endpoint
	}
	h, err := s.svc.CreateBatch(sctx, adapter.CreateBatchRequest{
		InputRef: inputRef,
		Endpoint: endpoint,
		Metadata: batchMetadata(req),
	})
	if err != nil {
		if deadlineHit() {
			metrics.IncBatchSubmission("upload_timeout")
			return nil, &domain.UploadTimeoutError{Path: req.Chunk.Path, Timeout: timeout, Uploaded: true, InputRef: inputRef, Err: err}
		}
		metrics.IncBatchSubmission("create_failed")
		s.log.Error().Err(err).Str("input_ref", inputRef).Msg("batch creation failed, uploaded input is orphaned")
		return nil, &domain.BatchCreateError{InputRef: inputRef, Err: err}
	}
	metrics.IncBatchSubmission("created")

	s.mirrorHandle(ctx, h)
	s.log.Info().Str("batch_id", h.BatchID).Str("input_ref", inputRef).Str("job_id", req.JobID).
		Int("chunk", req.Chunk.Index).Int("of", req.Chunk.TotalParts).Msg("batch submitted")
	return &SubmitResult{BatchID: h.BatchID, InputRef: inputRef, Status: h.Status, Timeout: timeout}, nil
}

func (s *submitUC) Cancel(ctx context.Context, batchID string) (*model.RemoteBatchHandle, error) {
	if batchID == "" {
		return nil, domain.ErrInvalidArgument
	}
	h, err := s.svc.CancelBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("cancel batch %s: %w", batchID, err)
	}
	s.mirrorHandle(ctx, h)
	s.log.Info().Str("batch_id", batchID).Str("status", string(h.Status)).Msg("batch cancel requested")
	return h, nil
}

func (s *submitUC) List(ctx context.Context, statuses ...model.BatchStatus) ([]model.RemoteBatchHandle, error) {
	hs, err := s.svc.ListBatches(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	for i := range hs {
		s.mirrorHandle(ctx, &hs[i])
	}
	return hs, nil
}

// mirrorHandle records the handle for display. The remote service stays the
// source of truth, so a failed write is only logged.
func (s *submitUC) mirrorHandle(ctx context.Context, h *model.RemoteBatchHandle) {
	if s.mirror == nil || h == nil {
		return
	}
	h.UpdatedAt = s.nowFunc().UTC()
	if err := s.mirror.Upsert(ctx, h); err != nil {
		s.log.Warn().Err(err).Str("batch_id", h.BatchID).Msg("mirror batch handle")
	}
}

func batchMetadata(req SubmitRequest) map[string]string {
	md := map[string]string{
		model.MetaChunkIndex: strconv.Itoa(req.Chunk.Index),
		model.MetaChunkTotal: strconv.Itoa(req.Chunk.TotalParts),
	}
	set := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	set(model.MetaJobID, req.JobID)
	set(model.MetaContentType, req.ContentType)
	set(model.MetaOwnerScope, req.OwnerScope)
	set(model.MetaSource, req.Source)
	return md
}
