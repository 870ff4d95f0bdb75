package model

import "time"

// GeneratedContent is the durable record a result materializes into.
// (ScopeID, Slug) is its natural key.
type GeneratedContent struct {
	ID            string
	ScopeID       string
	Slug          string
	Kind          string
	CorrelationID string
	Body          string
	Embedding     []float32
	Model         string
	SourceBatchID string
	CreatedAt     time.Time
}

// NewGeneratedContent derives the natural key from the correlation ID.
func NewGeneratedContent(id CorrelationID, now time.Time) *GeneratedContent {
	return &GeneratedContent{
		ScopeID:       id.OwnerID,
		Slug:          id.Slug(),
		Kind:          id.Kind,
		CorrelationID: id.String(),
		CreatedAt:     now,
	}
}
