package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/domain/ports/repository"
	"content-batch-pipeline/internal/infra/logging"
	"content-batch-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

type ReconcileUseCase interface {
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileReport, error)
}

// ReconcileRequest targets one batch, or with All every completed batch not
// yet reconciled plus every locally tracked batch still in flight.
type ReconcileRequest struct {
	BatchID string
	All     bool
}

type LineError struct {
	File          string `json:"file"` // output|error
	Line          int    `json:"line"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Error         string `json:"error"`
}

type BatchReport struct {
	BatchID        string            `json:"batch_id"`
	Status         model.BatchStatus `json:"status"`
	Recovered      int               `json:"recovered"`
	Skipped        int               `json:"skipped"`
	Failed         int               `json:"failed"`
	NonRecoverable bool              `json:"non_recoverable,omitempty"`
	Pending        bool              `json:"pending,omitempty"`
	LineErrors     []LineError       `json:"line_errors,omitempty"`
	Err            string            `json:"error,omitempty"`
}

type ReconcileReport struct {
	Batches   []BatchReport `json:"batches"`
	Recovered int           `json:"recovered"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

func (r *ReconcileReport) Summary() string {
	s := fmt.Sprintf("reconciled %d batches: %d recovered, %d skipped, %d failed",
		len(r.Batches), r.Recovered, r.Skipped, r.Failed)
	for _, b := range r.Batches {
		switch {
		case b.Err != "":
			s += fmt.Sprintf("\n- %s: %s", b.BatchID, b.Err)
		case b.NonRecoverable:
			s += fmt.Sprintf("\n- %s: %v", b.BatchID, b.Unrecoverable())
		}
	}
	return s
}

// Unrecoverable wraps domain.ErrNonRecoverable when the remote batch ended
// without results.
func (b BatchReport) Unrecoverable() error {
	if !b.NonRecoverable {
		return nil
	}
	return fmt.Errorf("%w: status %s", domain.ErrNonRecoverable, b.Status)
}

// Unrecoverable collects every batch of the sweep that can never be
// reconciled.
func (r *ReconcileReport) Unrecoverable() error {
	var merr *multierror.Error
	for _, b := range r.Batches {
		if err := b.Unrecoverable(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("batch %s: %w", b.BatchID, err))
		}
	}
	return merr.ErrorOrNil()
}

// resultRecord is one line of a batch output or error file.
type resultRecord struct {
	ID       string `json:"id"`
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type reconcileUC struct {
	svc     adapter.BatchService
	mirror  repository.RemoteBatchRepository
	content repository.ContentRepository
	mappers map[string]ResultMapper
	fanout  int
	now     func() time.Time
	log     *zerolog.Logger
}

func NewReconcileUseCase(
	svc adapter.BatchService,
	mirror repository.RemoteBatchRepository,
	content repository.ContentRepository,
	mappers map[string]ResultMapper,
	fanout int,
	logger *zerolog.Logger,
) *reconcileUC {
	if fanout <= 0 {
		fanout = 1
	}
	if mappers == nil {
		mappers = DefaultMappers()
	}
	l := logger.With().Str("component", "Reconciler").Logger()
	return &reconcileUC{svc: svc, mirror: mirror, content: content, mappers: mappers, fanout: fanout, now: time.Now, log: &l}
}

func (r *reconcileUC) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileReport, error) {
	defer logging.TraceDuration(r.log, "Reconciler.Reconcile")()

	targets, err := r.targets(ctx, req)
	if err != nil {
		return nil, err
	}

	reports := make([]BatchReport, len(targets))
	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for i, id := range targets {
		g.Go(func() error {
			rep, err := r.reconcileOne(gctx, id)
			if err != nil {
				rep.Err = err.Error()
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("batch %s: %w", id, err))
				mu.Unlock()
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()

	out := &ReconcileReport{Batches: reports}
	for _, rep := range reports {
		out.Recovered += rep.Recovered
		out.Skipped += rep.Skipped
		out.Failed += rep.Failed
	}
	r.log.Info().Int("batches", len(reports)).Int("recovered", out.Recovered).
		Int("skipped", out.Skipped).Int("failed", out.Failed).Msg("reconciliation finished")
	return out, merr.ErrorOrNil()
}

func (r *reconcileUC) targets(ctx context.Context, req ReconcileRequest) ([]string, error) {
	if req.BatchID != "" {
		return []string{req.BatchID}, nil
	}
	if !req.All {
		return nil, fmt.Errorf("%w: batch id or all is required", domain.ErrInvalidArgument)
	}

	completed, err := r.svc.ListBatches(ctx, model.BatchStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed batches: %w", err)
	}
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, h := range completed {
		if r.mirror != nil {
			local, err := r.mirror.FindByID(ctx, h.BatchID)
			if err == nil && local.ReconciledAt != nil {
				continue
			}
		}
		add(h.BatchID)
	}
	if r.mirror != nil {
		inflight, err := r.mirror.ListByStatus(ctx, model.ActiveBatchStatuses()...)
		if err != nil {
			r.log.Warn().Err(err).Msg("list locally tracked batches")
		}
		for _, h := range inflight {
			add(h.BatchID)
		}
	}
	return ids, nil
}

func (r *reconcileUC) reconcileOne(ctx context.Context, batchID string) (BatchReport, error) {
	rep := BatchReport{BatchID: batchID}
	ctx = logging.WithBatchID(ctx, batchID)
	log := logging.With(ctx, r.log)

	h, err := r.svc.GetBatch(ctx, batchID)
	if err != nil {
		return rep, fmt.Errorf("get batch: %w", err)
	}
	rep.Status = h.Status
	r.mirrorHandle(ctx, h)

	switch {
	case h.Status.Unrecoverable():
		rep.NonRecoverable = true
		log.Warn().Str("status", string(h.Status)).Msg("batch is not recoverable")
		return rep, nil
	case h.Status != model.BatchStatusCompleted:
		rep.Pending = true
		log.Debug().Str("status", string(h.Status)).Msg("batch not completed yet")
		return rep, nil
	}

	if h.OutputRef != "" {
		if err := r.consume(ctx, h, h.OutputRef, "output", &rep); err != nil {
			return rep, err
		}
	}
	if h.ErrorRef != "" {
		if err := r.consume(ctx, h, h.ErrorRef, "error", &rep); err != nil {
			return rep, err
		}
	}

	metrics.AddReconciled(string(model.OutcomeRecovered), rep.Recovered)
	metrics.AddReconciled(string(model.OutcomeSkipped), rep.Skipped)
	metrics.AddReconciled(string(model.OutcomeFailed), rep.Failed)

	if r.mirror != nil {
		if err := r.mirror.MarkReconciled(ctx, h.BatchID, r.now().UTC()); err != nil {
			log.Warn().Err(err).Msg("mark batch reconciled")
		}
	}
	log.Info().Int("recovered", rep.Recovered).Int("skipped", rep.Skipped).Int("failed", rep.Failed).
		Int("line_errors", len(rep.LineErrors)).Msg("batch reconciled")
	return rep, nil
}

// consume streams one result file. Per-line problems are recorded and the
// stream continues; a storage failure aborts the batch so a later run can
// redo it.
func (r *reconcileUC) consume(ctx context.Context, h *model.RemoteBatchHandle, ref, file string, rep *BatchReport) error {
	rc, err := r.svc.DownloadFile(ctx, ref)
	if err != nil {
		return fmt.Errorf("download %s file %s: %w", file, ref, err)
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 256<<10)
	for lineNo := 1; ; lineNo++ {
		raw, rerr := br.ReadBytes('\n')
		if len(strings.TrimSpace(string(raw))) > 0 {
			res, err := r.apply(ctx, h, raw)
			if err != nil {
				return fmt.Errorf("%s line %d: %w", file, lineNo, err)
			}
			switch res.Outcome {
			case model.OutcomeRecovered:
				rep.Recovered++
			case model.OutcomeSkipped:
				rep.Skipped++
			default:
				rep.Failed++
				metrics.IncReconcileLineError()
				rep.LineErrors = append(rep.LineErrors, LineError{
					File: file, Line: lineNo, CorrelationID: res.CorrelationID, Error: res.Error,
				})
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read %s file: %w", file, rerr)
		}
	}
}

// apply maps one record. A returned error is fatal for the batch; record
// problems come back as a failed result.
func (r *reconcileUC) apply(ctx context.Context, h *model.RemoteBatchHandle, raw []byte) (model.ReconciledResult, error) {
	failed := func(corr, msg string) (model.ReconciledResult, error) {
		return model.ReconciledResult{CorrelationID: corr, Outcome: model.OutcomeFailed, Error: msg}, nil
	}

	var rec resultRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return failed("", "malformed result record: "+err.Error())
	}
	id, err := model.ParseCorrelationID(rec.CustomID)
	if err != nil {
		return failed(rec.CustomID, err.Error())
	}
	if rec.Error != nil {
		return failed(rec.CustomID, fmt.Sprintf("%s: %s", rec.Error.Code, rec.Error.Message))
	}
	if rec.Response == nil {
		return failed(rec.CustomID, "result has neither response nor error")
	}
	if rec.Response.StatusCode < 200 || rec.Response.StatusCode > 299 {
		return failed(rec.CustomID, fmt.Sprintf("status %d: %s", rec.Response.StatusCode, errorMessage(rec.Response.Body)))
	}
	mapper, ok := r.mappers[id.Kind]
	if !ok {
		return failed(rec.CustomID, "no mapper for kind "+id.Kind)
	}

	c := model.NewGeneratedContent(id, r.now().UTC())
	c.SourceBatchID = h.BatchID
	if err := mapper.Map(id, rec.Response.Body, c); err != nil {
		return failed(rec.CustomID, err.Error())
	}

	recordID, inserted, err := r.content.Upsert(ctx, nil, c)
	if err != nil {
		return model.ReconciledResult{}, fmt.Errorf("upsert %s: %w", rec.CustomID, err)
	}
	res := model.ReconciledResult{CorrelationID: rec.CustomID, Success: true, TargetRecordID: recordID, Outcome: model.OutcomeSkipped}
	if inserted {
		res.Outcome = model.OutcomeRecovered
	}
	return res, nil
}

func (r *reconcileUC) mirrorHandle(ctx context.Context, h *model.RemoteBatchHandle) {
	if r.mirror == nil {
		return
	}
	h.UpdatedAt = r.now().UTC()
	if err := r.mirror.Upsert(ctx, h); err != nil {
		r.log.Warn().Err(err).Str("batch_id", h.BatchID).Msg("mirror batch handle")
	}
}

// errorMessage extracts {"error":{"message":...}} or {"error":"..."} from a
// body, falling back to the raw text.
func errorMessage(body []byte) string {
	var withObj struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &withObj) == nil && withObj.Error.Message != "" {
		return withObj.Error.Message
	}
	var withStr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &withStr) == nil && withStr.Error != "" {
		return withStr.Error
	}
	return strings.TrimSpace(string(body))
}
