package model

import (
	"encoding/json"
	"fmt"

	"content-batch-pipeline/internal/domain"
)

type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusSubmitted ItemStatus = "submitted"
	ItemStatusSucceeded ItemStatus = "succeeded"
	ItemStatusFailed    ItemStatus = "failed"
)

// WorkItem is one downstream request. Payload is opaque and never mutated;
// only Status moves.
type WorkItem struct {
	CorrelationID string          `json:"id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        ItemStatus      `json:"-"`
}

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusPending:   {ItemStatusSubmitted, ItemStatusSucceeded, ItemStatusFailed},
	ItemStatusSubmitted: {ItemStatusSucceeded, ItemStatusFailed},
	ItemStatusFailed:    {ItemStatusPending},
}

func NewWorkItem(correlationID string, payload json.RawMessage) (*WorkItem, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: empty correlation id", domain.ErrInvalidArgument)
	}
	return &WorkItem{CorrelationID: correlationID, Payload: payload, Status: ItemStatusPending}, nil
}

// Transition moves the item to next or returns domain.ErrInvalidTransition.
func (w *WorkItem) Transition(next ItemStatus) error {
	cur := w.Status
	if cur == "" {
		cur = ItemStatusPending
	}
	for _, s := range itemTransitions[cur] {
		if s == next {
			w.Status = next
			return nil
		}
	}
	return fmt.Errorf("%w: item %s %s -> %s", domain.ErrInvalidTransition, w.CorrelationID, cur, next)
}

// RejectedItem is a source record that could not become a WorkItem. It is
// recorded as a failure under Key and never sent downstream.
type RejectedItem struct {
	Line   int    `json:"line"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// Key identifies the reject in a job's progress sets. Line numbers are used
// because the raw ID may be empty, malformed or a duplicate.
func (r RejectedItem) Key() string { return fmt.Sprintf("line:%d", r.Line) }
