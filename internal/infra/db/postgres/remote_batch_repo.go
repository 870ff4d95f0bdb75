package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
)

var _ repository.RemoteBatchRepository = (*remoteBatchRepo)(nil)

type remoteBatchRepo struct {
	pool *pgxpool.Pool
}

func NewRemoteBatchRepo(pool *pgxpool.Pool) *remoteBatchRepo {
	return &remoteBatchRepo{pool: pool}
}

const batchColumns = `batch_id, input_ref, endpoint, status, output_ref, error_ref, metadata, total, completed, failed, created_at, updated_at, reconciled_at`

func scanBatch(row pgx.Row) (*model.RemoteBatchHandle, error) {
	var (
		h      model.RemoteBatchHandle
		status string
		meta   []byte
	)
	if err := row.Scan(&h.BatchID, &h.InputRef, &h.Endpoint, &status, &h.OutputRef, &h.ErrorRef, &meta,
		&h.RequestCounts.Total, &h.RequestCounts.Completed, &h.RequestCounts.Failed,
		&h.CreatedAt, &h.UpdatedAt, &h.ReconciledAt); err != nil {
		return nil, scanErr(err)
	}
	h.Status = model.BatchStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return nil, fmt.Errorf("%w: batch metadata: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &h, nil
}

// Upsert never clears reconciled_at once set.
func (r *remoteBatchRepo) Upsert(ctx context.Context, h *model.RemoteBatchHandle) error {
	meta, err := json.Marshal(h.Metadata)
	if err != nil {
		return err
	}
	if h.Metadata == nil {
		meta = []byte("{}")
	}
	created := h.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := h.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	const q = `
INSERT INTO remote_batches (batch_id, input_ref, endpoint, status, output_ref, error_ref, metadata, total, completed, failed, created_at, updated_at, reconciled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (batch_id) DO UPDATE SET
  input_ref     = COALESCE(NULLIF(EXCLUDED.input_ref, ''), remote_batches.input_ref),
  endpoint      = COALESCE(NULLIF(EXCLUDED.endpoint, ''), remote_batches.endpoint),
  status        = EXCLUDED.status,
  output_ref    = EXCLUDED.output_ref,
  error_ref     = EXCLUDED.error_ref,
  metadata      = EXCLUDED.metadata,
  total         = EXCLUDED.total,
  completed     = EXCLUDED.completed,
  failed        = EXCLUDED.failed,
  updated_at    = EXCLUDED.updated_at,
  reconciled_at = COALESCE(EXCLUDED.reconciled_at, remote_batches.reconciled_at);`
	_, err = execSQL(ctx, r.pool, nil, q,
		h.BatchID, h.InputRef, h.Endpoint, string(h.Status), h.OutputRef, h.ErrorRef, meta,
		h.RequestCounts.Total, h.RequestCounts.Completed, h.RequestCounts.Failed,
		created, updated, h.ReconciledAt)
	return err
}

func (r *remoteBatchRepo) FindByID(ctx context.Context, batchID string) (*model.RemoteBatchHandle, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT `+batchColumns+` FROM remote_batches WHERE batch_id = $1;`, batchID)
	if err != nil {
		return nil, err
	}
	return scanBatch(row)
}

func (r *remoteBatchRepo) ListByStatus(ctx context.Context, statuses ...model.BatchStatus) ([]*model.RemoteBatchHandle, error) {
	ss := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ss = append(ss, string(s))
	}
	const q = `
SELECT ` + batchColumns + `
FROM remote_batches
WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
ORDER BY created_at;`
	rows, err := queryRows(ctx, r.pool, nil, q, ss)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RemoteBatchHandle
	for rows.Next() {
		h, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *remoteBatchRepo) MarkReconciled(ctx context.Context, batchID string, at time.Time) error {
	tag, err := execSQL(ctx, r.pool, nil,
		`UPDATE remote_batches SET reconciled_at = $2, updated_at = $2 WHERE batch_id = $1;`, batchID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
