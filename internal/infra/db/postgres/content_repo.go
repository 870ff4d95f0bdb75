package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
)

var _ repository.ContentRepository = (*contentRepo)(nil)

type contentRepo struct {
	pool *pgxpool.Pool
}

func NewContentRepo(pool *pgxpool.Pool) *contentRepo {
	return &contentRepo{pool: pool}
}

// Upsert relies on the (scope_id, slug) constraint: a conflicting insert
// returns no row and the existing id is looked up instead.
func (r *contentRepo) Upsert(ctx context.Context, tx repository.Tx, c *model.GeneratedContent) (string, bool, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
INSERT INTO generated_content (id, scope_id, slug, kind, correlation_id, body, embedding, model, source_batch_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (scope_id, slug) DO NOTHING
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q,
		id, c.ScopeID, c.Slug, c.Kind, c.CorrelationID, c.Body, c.Embedding, c.Model, c.SourceBatchID, c.CreatedAt)
	if err != nil {
		return "", false, err
	}
	var stored string
	err = row.Scan(&stored)
	if err == nil {
		c.ID = stored
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, scanErr(err)
	}

	row, err = pickRow(ctx, r.pool, tx, `SELECT id FROM generated_content WHERE scope_id = $1 AND slug = $2;`, c.ScopeID, c.Slug)
	if err != nil {
		return "", false, err
	}
	if err := row.Scan(&stored); err != nil {
		return "", false, scanErr(err)
	}
	return stored, false, nil
}

func (r *contentRepo) FindByKey(ctx context.Context, tx repository.Tx, scopeID, slug string) (*model.GeneratedContent, error) {
	const q = `
SELECT id, scope_id, slug, kind, correlation_id, body, embedding, model, source_batch_id, created_at
FROM generated_content WHERE scope_id = $1 AND slug = $2;`
	row, err := pickRow(ctx, r.pool, tx, q, scopeID, slug)
	if err != nil {
		return nil, err
	}
	var c model.GeneratedContent
	if err := row.Scan(&c.ID, &c.ScopeID, &c.Slug, &c.Kind, &c.CorrelationID, &c.Body, &c.Embedding,
		&c.Model, &c.SourceBatchID, &c.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &c, nil
}

func (r *contentRepo) CountByScope(ctx context.Context, tx repository.Tx, scopeID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT count(*) FROM generated_content WHERE scope_id = $1;`, scopeID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, scanErr(err)
	}
	return n, nil
}
