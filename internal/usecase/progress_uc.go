package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
	"content-batch-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ ProgressUseCase = (*progressUC)(nil)

// ProgressUseCase is the job progress store as seen by operators and workers.
type ProgressUseCase interface {
	Create(ctx context.Context, source, kind string) (*model.Job, error)
	Load(ctx context.Context, jobID string) (*model.Job, error)
	Checkpoint(ctx context.Context, jobID string, processed, failed []string) error
	MarkStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error
	// Resume reloads the job and returns the items it has not processed yet.
	Resume(ctx context.Context, jobID string, items []model.WorkItem) (*model.Job, []model.WorkItem, error)
	Requeue(ctx context.Context, jobID string) ([]string, error)
	// Claim moves a job into processing. With an empty jobID it takes the
	// oldest processing job, else the oldest pending one.
	Claim(ctx context.Context, jobID string, resume bool) (*model.Job, error)
	SetTotal(ctx context.Context, jobID string, total int) error
	List(ctx context.Context, status model.JobStatus, limit int) ([]*model.Job, error)
}

type progressUC struct {
	jobs repository.JobRepository
	now  func() time.Time
	log  *zerolog.Logger
}

func NewProgressUseCase(jobs repository.JobRepository, logger *zerolog.Logger) *progressUC {
	l := logger.With().Str("component", "ProgressUseCase").Logger()
	return &progressUC{jobs: jobs, now: time.Now, log: &l}
}

func (p *progressUC) Create(ctx context.Context, source, kind string) (*model.Job, error) {
	job, err := model.NewJob(ulid.Make().String(), source, kind, p.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := p.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.IncJobTransition(string(model.JobStatusPending))
	p.log.Info().Str("job_id", job.ID).Str("source", source).Str("kind", kind).Msg("job enqueued")
	return job, nil
}

func (p *progressUC) Load(ctx context.Context, jobID string) (*model.Job, error) {
	if jobID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return p.jobs.Load(ctx, jobID)
}

func (p *progressUC) Checkpoint(ctx context.Context, jobID string, processed, failed []string) error {
	if len(processed) == 0 && len(failed) == 0 {
		return nil
	}
	return p.jobs.Checkpoint(ctx, jobID, processed, failed)
}

func (p *progressUC) MarkStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", domain.ErrInvalidArgument, status)
	}
	if err := p.jobs.MarkStatus(ctx, jobID, status, errMsg); err != nil {
		return err
	}
	metrics.IncJobTransition(string(status))
	return nil
}

func (p *progressUC) Resume(ctx context.Context, jobID string, items []model.WorkItem) (*model.Job, []model.WorkItem, error) {
	job, err := p.jobs.Load(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, job.Remaining(items), nil
}

func (p *progressUC) Requeue(ctx context.Context, jobID string) ([]string, error) {
	ids, err := p.jobs.Requeue(ctx, jobID)
	if err != nil {
		return nil, err
	}
	p.log.Info().Str("job_id", jobID).Int("requeued", len(ids)).Msg("failed items requeued")
	return ids, nil
}

func (p *progressUC) Claim(ctx context.Context, jobID string, resume bool) (*model.Job, error) {
	if jobID == "" {
		job, err := p.jobs.ClaimNext(ctx)
		if err != nil {
			return nil, err
		}
		metrics.IncJobTransition(string(model.JobStatusProcessing))
		return job, nil
	}

	job, err := p.jobs.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := job.CanTransition(model.JobStatusProcessing, resume); err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusProcessing {
		if err := p.MarkStatus(ctx, job.ID, model.JobStatusProcessing, ""); err != nil {
			return nil, err
		}
		p.log.Info().Str("job_id", job.ID).Str("from", string(job.Status)).Msg("job claimed")
		job.Status = model.JobStatusProcessing
		job.ErrorMessage = ""
	}
	return job, nil
}

func (p *progressUC) SetTotal(ctx context.Context, jobID string, total int) error {
	if total < 0 {
		return fmt.Errorf("%w: negative total", domain.ErrInvalidArgument)
	}
	return p.jobs.SetTotal(ctx, jobID, total)
}

func (p *progressUC) List(ctx context.Context, status model.JobStatus, limit int) ([]*model.Job, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: status %q", domain.ErrInvalidArgument, status)
	}
	return p.jobs.List(ctx, status, limit)
}
