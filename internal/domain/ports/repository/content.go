package repository

import (
	"context"

	"content-batch-pipeline/internal/domain/model"
)

type ContentRepository interface {
	// Upsert inserts c unless a record with the same (scope, slug) exists.
	// It returns the stored record ID and whether this call created it.
	Upsert(ctx context.Context, tx Tx, c *model.GeneratedContent) (id string, inserted bool, err error)
	FindByKey(ctx context.Context, tx Tx, scopeID, slug string) (*model.GeneratedContent, error)
	CountByScope(ctx context.Context, tx Tx, scopeID string) (int, error)
}
