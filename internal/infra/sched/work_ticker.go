package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/infra/worker"
	"content-batch-pipeline/internal/usecase"
)

// WorkTicker periodically runs one worker invocation per open job, at most
// parallel jobs at a time. A job is never handed to two tasks at once.
type WorkTicker struct {
	worker   usecase.WorkerUseCase
	progress usecase.ProgressUseCase
	pool     *worker.Pool
	notifier adapter.Notifier
	interval time.Duration
	parallel int
	log      *zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewWorkTicker(
	w usecase.WorkerUseCase,
	progress usecase.ProgressUseCase,
	pool *worker.Pool,
	notifier adapter.Notifier,
	interval time.Duration,
	parallel int,
	logger *zerolog.Logger,
) *WorkTicker {
	if interval <= 0 {
		interval = time.Minute
	}
	if parallel <= 0 {
		parallel = 1
	}
	l := logger.With().Str("component", "WorkTicker").Logger()
	return &WorkTicker{
		worker:   w,
		progress: progress,
		pool:     pool,
		notifier: notifier,
		interval: interval,
		parallel: parallel,
		log:      &l,
		inflight: make(map[string]struct{}),
	}
}

func (t *WorkTicker) Start(ctx context.Context) {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.tick(ctx)
		}
	}
}

func (t *WorkTicker) tick(ctx context.Context) {
	for _, id := range t.candidates(ctx) {
		if !t.acquire(id) {
			continue
		}
		jobID := id
		if err := t.pool.Submit(func(ctx context.Context) error {
			defer t.release(jobID)
			return t.run(ctx, jobID)
		}); err != nil {
			t.release(jobID)
			t.log.Debug().Err(err).Str("job_id", jobID).Msg("pool busy, job left for the next tick")
			return
		}
	}
}

// candidates lists processing jobs before pending ones, oldest first.
func (t *WorkTicker) candidates(ctx context.Context) []string {
	var ids []string
	for _, st := range []model.JobStatus{model.JobStatusProcessing, model.JobStatusPending} {
		jobs, err := t.progress.List(ctx, st, t.parallel)
		if err != nil {
			t.log.Error().Err(err).Str("status", string(st)).Msg("list jobs")
			continue
		}
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

func (t *WorkTicker) acquire(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inflight[jobID]; busy || len(t.inflight) >= t.parallel {
		return false
	}
	t.inflight[jobID] = struct{}{}
	return true
}

func (t *WorkTicker) release(jobID string) {
	t.mu.Lock()
	delete(t.inflight, jobID)
	t.mu.Unlock()
}

func (t *WorkTicker) run(ctx context.Context, jobID string) error {
	report, err := t.worker.RunOnce(ctx, usecase.RunOptions{JobID: jobID})
	if errors.Is(err, domain.ErrJobLocked) {
		t.log.Debug().Str("job_id", jobID).Msg("job claimed elsewhere")
		return nil
	}
	if err != nil {
		return err
	}
	if report.Done || report.Failed > 0 {
		if nErr := t.notifier.Notify(ctx, report.Summary()); nErr != nil {
			t.log.Warn().Err(nErr).Msg("send run summary")
		}
	}
	return nil
}
