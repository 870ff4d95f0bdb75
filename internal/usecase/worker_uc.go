package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/infra/logging"
	"content-batch-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ WorkerUseCase = (*workerUC)(nil)

type WorkerUseCase interface {
	// RunOnce advances one job by a bounded slice of items and returns.
	RunOnce(ctx context.Context, opts RunOptions) (*RunReport, error)
}

type RunOptions struct {
	JobID string
	// Limit caps the items attempted by this invocation; it overrides BatchSize.
	Limit     int
	BatchSize int
	// Resume allows re-entering a job that is in error or done.
	Resume bool
}

type ItemFailure struct {
	CorrelationID string           `json:"correlation_id"`
	Error         string           `json:"error"`
	Attempts      int              `json:"attempts"`
	Status        model.ItemStatus `json:"status"`
}

type RunReport struct {
	JobID       string        `json:"job_id,omitempty"`
	Idle        bool          `json:"idle,omitempty"`
	Attempted   int           `json:"attempted"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Remaining   int           `json:"remaining"`
	Done        bool          `json:"done"`
	Interrupted bool          `json:"interrupted,omitempty"`
	Failures    []ItemFailure `json:"failures,omitempty"`
}

// Summary renders the report as a one-paragraph operator message.
func (r *RunReport) Summary() string {
	if r.Idle {
		return "no pending jobs"
	}
	state := "partial"
	switch {
	case r.Done:
		state = "done"
	case r.Interrupted:
		state = "interrupted"
	}
	s := fmt.Sprintf("job %s %s: %d attempted, %d succeeded, %d failed, %d remaining",
		r.JobID, state, r.Attempted, r.Succeeded, r.Failed, r.Remaining)
	for i, f := range r.Failures {
		if i == 5 {
			s += fmt.Sprintf("\n... and %d more failures", len(r.Failures)-i)
			break
		}
		s += fmt.Sprintf("\n- %s: %s", f.CorrelationID, f.Error)
	}
	return s
}

type WorkerConfig struct {
	BatchSize int
	Retry     RetryPolicy
	LockTTL   time.Duration
}

type workerUC struct {
	progress ProgressUseCase
	source   adapter.ItemSource
	api      adapter.ItemAPI
	limiter  adapter.RateLimiter
	locker   adapter.Locker
	cfg      WorkerConfig
	sleep    Sleeper
	log      *zerolog.Logger
}

// NewWorkerUseCase wires the worker loop. locker may be nil, in which case
// the processing status alone guards the job.
func NewWorkerUseCase(
	progress ProgressUseCase,
	source adapter.ItemSource,
	api adapter.ItemAPI,
	limiter adapter.RateLimiter,
	locker adapter.Locker,
	cfg WorkerConfig,
	logger *zerolog.Logger,
) *workerUC {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	l := logger.With().Str("component", "Worker").Logger()
	return &workerUC{
		progress: progress,
		source:   source,
		api:      api,
		limiter:  limiter,
		locker:   locker,
		cfg:      cfg,
		sleep:    SleepContext,
		log:      &l,
	}
}

// WithSleeper replaces the backoff sleeper, for tests running on a fake clock.
func (w *workerUC) WithSleeper(s Sleeper) *workerUC {
	w.sleep = s
	return w
}

func ClaimLockKey(jobID string) string { return "job-claim:" + jobID }

func (w *workerUC) RunOnce(ctx context.Context, opts RunOptions) (*RunReport, error) {
	defer logging.TraceDuration(w.log, "Worker.RunOnce")()

	job, err := w.progress.Claim(ctx, opts.JobID, opts.Resume)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && opts.JobID == "" {
			metrics.IncInvocation("idle")
			return &RunReport{Idle: true}, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, w.log)

	if w.locker != nil {
		key := ClaimLockKey(job.ID)
		token, err := w.locker.TryLock(ctx, key, w.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("lock job %s: %w", job.ID, err)
		}
		defer func() {
			if err := w.locker.Unlock(context.Background(), key, token); err != nil {
				log.Warn().Err(err).Msg("release claim lock")
			}
		}()
	}

	items, rejected, err := w.source.Items(ctx, job.Source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		serr := &domain.SourceError{Source: job.Source, Err: err}
		if mErr := w.progress.MarkStatus(ctx, job.ID, model.JobStatusError, serr.Error()); mErr != nil {
			log.Error().Err(mErr).Msg("could not record source failure on job")
		}
		metrics.IncInvocation("error")
		log.Error().Err(serr).Msg("job source unreadable, job marked error")
		return &RunReport{JobID: job.ID}, serr
	}

	total := len(items) + len(rejected)
	if job.TotalItems == nil || *job.TotalItems != total {
		if err := w.progress.SetTotal(ctx, job.ID, total); err != nil {
			return nil, fmt.Errorf("record total: %w", err)
		}
	}

	job, remaining, err := w.progress.Resume(ctx, job.ID, items)
	if err != nil {
		return nil, fmt.Errorf("resume job: %w", err)
	}
	report := &RunReport{JobID: job.ID, Remaining: len(remaining), Skipped: len(items) - len(remaining)}

	if err := w.recordRejects(ctx, job, rejected, report); err != nil {
		metrics.IncInvocation("error")
		return report, err
	}

	n := w.cfg.BatchSize
	if opts.BatchSize > 0 {
		n = opts.BatchSize
	}
	if opts.Limit > 0 {
		n = opts.Limit
	}
	if n > len(remaining) {
		n = len(remaining)
	}

	for i := range remaining[:n] {
		item := &remaining[i]
		attempts, callErr := w.process(ctx, item)
		if ctx.Err() != nil {
			// the item stays unrecorded and is picked up again on resume
			report.Interrupted = true
			metrics.IncInvocation("interrupted")
			log.Warn().Str("correlation_id", item.CorrelationID).Msg("invocation cancelled mid-item")
			return report, ctx.Err()
		}

		var processed, failed []string
		if callErr == nil {
			processed = []string{item.CorrelationID}
		} else {
			failed = []string{item.CorrelationID}
		}
		if err := w.progress.Checkpoint(ctx, job.ID, processed, failed); err != nil {
			metrics.IncInvocation("error")
			return report, fmt.Errorf("checkpoint %s: %w", item.CorrelationID, err)
		}
		job.Apply(processed, failed, time.Now())

		report.Attempted++
		report.Remaining--
		if callErr == nil {
			report.Succeeded++
			metrics.IncItemProcessed("succeeded")
			continue
		}
		report.Failed++
		metrics.IncItemProcessed("failed")
		report.Failures = append(report.Failures, ItemFailure{
			CorrelationID: item.CorrelationID,
			Error:         callErr.Error(),
			Attempts:      attempts,
			Status:        item.Status,
		})
		log.Warn().Err(callErr).Str("correlation_id", item.CorrelationID).Int("attempts", attempts).Msg("item failed")
	}

	if report.Remaining == 0 && job.IsComplete() {
		if err := w.progress.MarkStatus(ctx, job.ID, model.JobStatusDone, ""); err != nil {
			return report, fmt.Errorf("mark done: %w", err)
		}
		report.Done = true
		metrics.IncInvocation("done")
	} else {
		metrics.IncInvocation("partial")
	}

	log.Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("remaining", report.Remaining).
		Bool("done", report.Done).
		Msg("worker invocation finished")
	return report, nil
}

// process calls the downstream API for one item, waiting on the window
// before every attempt and backing off between transient failures. The item
// leaves as succeeded or failed, or stays submitted when ctx ends mid-call.
func (w *workerUC) process(ctx context.Context, item *model.WorkItem) (int, error) {
	policy := w.cfg.Retry
	for attempt := 1; ; attempt++ {
		start := time.Now()
		if err := w.limiter.Wait(ctx); err != nil {
			return attempt, w.settle(item, err)
		}
		metrics.ObserveLimiterWait(time.Since(start))
		metrics.IncItemAttempt()
		if attempt == 1 {
			if err := item.Transition(model.ItemStatusSubmitted); err != nil {
				return attempt, w.settle(item, err)
			}
		}

		err := w.api.Call(ctx, *item)
		if err == nil {
			return attempt, w.settle(item, nil)
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt >= policy.attempts() || !policy.ShouldRetry(err) {
			return attempt, w.settle(item, err)
		}
		wait := policy.Backoff(attempt)
		w.log.Debug().Err(err).Str("correlation_id", item.CorrelationID).
			Int("attempt", attempt).Dur("backoff", wait).Msg("transient failure, retrying")
		if err := w.sleep(ctx, wait); err != nil {
			return attempt, err
		}
	}
}

// settle moves a submitted item to its final status. A transition error
// replaces a nil call error so the item is never recorded as succeeded
// without having been sent.
func (w *workerUC) settle(item *model.WorkItem, callErr error) error {
	next := model.ItemStatusSucceeded
	if callErr != nil {
		next = model.ItemStatusFailed
	}
	if err := item.Transition(next); err != nil && callErr == nil {
		return err
	}
	return callErr
}

// recordRejects checkpoints source records that could not become items as
// failures, once. They are reported with zero attempts.
func (w *workerUC) recordRejects(ctx context.Context, job *model.Job, rejected []model.RejectedItem, report *RunReport) error {
	var keys []string
	for _, r := range rejected {
		key := r.Key()
		if job.ProcessedIDs.Has(key) {
			continue
		}
		keys = append(keys, key)
		report.Failures = append(report.Failures, ItemFailure{
			CorrelationID: key,
			Error:         r.Reason,
			Status:        model.ItemStatusFailed,
		})
	}
	if len(keys) == 0 {
		return nil
	}
	if err := w.progress.Checkpoint(ctx, job.ID, nil, keys); err != nil {
		report.Failures = report.Failures[:len(report.Failures)-len(keys)]
		return fmt.Errorf("record rejected records: %w", err)
	}
	job.Apply(nil, keys, time.Now())
	report.Failed += len(keys)
	for range keys {
		metrics.IncItemProcessed("rejected")
	}
	logging.With(ctx, w.log).Warn().Int("rejected", len(keys)).Msg("source records rejected")
	return nil
}
