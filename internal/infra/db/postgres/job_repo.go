package postgres

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const jobColumns = `id, status, source, kind, total_items, processed_ids, failed_ids, error_message, created_at, last_updated`

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j         model.Job
		status    string
		total     *int32
		processed []string
		failed    []string
	)
	if err := row.Scan(&j.ID, &status, &j.Source, &j.Kind, &total, &processed, &failed,
		&j.ErrorMessage, &j.CreatedAt, &j.LastUpdated); err != nil {
		return nil, scanErr(err)
	}
	j.Status = model.JobStatus(status)
	if total != nil {
		n := int(*total)
		j.TotalItems = &n
	}
	j.ProcessedIDs = model.NewIDSet(processed...)
	j.FailedIDs = model.NewIDSet(failed...)
	return &j, nil
}

func (r *jobRepo) Create(ctx context.Context, job *model.Job) error {
	const q = `
INSERT INTO pipeline_jobs (id, status, source, kind, processed_ids, failed_ids, error_message, created_at, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err := execSQL(ctx, r.pool, nil, q,
		job.ID, string(job.Status), job.Source, job.Kind,
		job.ProcessedIDs.Sorted(), job.FailedIDs.Sorted(), job.ErrorMessage, job.CreatedAt, job.LastUpdated)
	return err
}

func (r *jobRepo) Load(ctx context.Context, jobID string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT `+jobColumns+` FROM pipeline_jobs WHERE id = $1;`, jobID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// Checkpoint merges the delta into the stored arrays in one statement, so
// concurrent writers never drop each other's IDs.
func (r *jobRepo) Checkpoint(ctx context.Context, jobID string, processed, failed []string) error {
	const q = `
UPDATE pipeline_jobs SET
  processed_ids = ARRAY(SELECT DISTINCT unnest(processed_ids || $2::text[] || $3::text[])),
  failed_ids    = ARRAY(SELECT DISTINCT unnest(failed_ids || $3::text[])),
  last_updated  = $4
WHERE id = $1;`
	if processed == nil {
		processed = []string{}
	}
	if failed == nil {
		failed = []string{}
	}
	tag, err := execSQL(ctx, r.pool, nil, q, jobID, processed, failed, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) MarkStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	const q = `UPDATE pipeline_jobs SET status = $2, error_message = $3, last_updated = $4 WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, nil, q, jobID, string(status), errMsg, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) SetTotal(ctx context.Context, jobID string, total int) error {
	const q = `UPDATE pipeline_jobs SET total_items = $2, last_updated = $3 WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, nil, q, jobID, int32(total), time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) ClaimNext(ctx context.Context) (*model.Job, error) {
	var job *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQuery = `
SELECT ` + jobColumns + `
FROM pipeline_jobs
WHERE status IN ('processing', 'pending')
ORDER BY (status = 'processing') DESC, created_at
LIMIT 1
FOR UPDATE SKIP LOCKED;`
		row, err := pickRow(ctx, r.pool, tx, fetchQuery)
		if err != nil {
			return err
		}
		fetched, err := scanJob(row)
		if err != nil {
			return err
		}
		if fetched.Status == model.JobStatusPending {
			fetched.Status = model.JobStatusProcessing
			fetched.LastUpdated = time.Now().UTC()
			if _, err := execSQL(ctx, r.pool, tx,
				`UPDATE pipeline_jobs SET status = 'processing', last_updated = $2 WHERE id = $1;`,
				fetched.ID, fetched.LastUpdated); err != nil {
				return err
			}
		}
		job = fetched
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func (r *jobRepo) Requeue(ctx context.Context, jobID string) ([]string, error) {
	var ids []string
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, r.pool, tx, `SELECT failed_ids FROM pipeline_jobs WHERE id = $1 FOR UPDATE;`, jobID)
		if err != nil {
			return err
		}
		if err := row.Scan(&ids); err != nil {
			return scanErr(err)
		}
		const q = `
UPDATE pipeline_jobs SET
  processed_ids = ARRAY(SELECT unnest(processed_ids) EXCEPT SELECT unnest(failed_ids)),
  failed_ids    = '{}',
  status        = CASE WHEN status = 'done' AND cardinality(failed_ids) > 0 THEN 'processing' ELSE status END,
  last_updated  = $2
WHERE id = $1;`
		_, err = execSQL(ctx, r.pool, tx, q, jobID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *jobRepo) List(ctx context.Context, status model.JobStatus, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + jobColumns + `
FROM pipeline_jobs
WHERE ($1 = '' OR status = $1)
ORDER BY created_at
LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, nil, q, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
