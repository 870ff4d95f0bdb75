package model

import "time"

type BatchStatus string

const (
	BatchStatusValidating BatchStatus = "validating"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusFinalizing BatchStatus = "finalizing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"

	// reported by the provider in addition to the six above
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusExpired    BatchStatus = "expired"
)

// ActiveBatchStatuses are the statuses that count against the concurrency quota.
func ActiveBatchStatuses() []BatchStatus {
	return []BatchStatus{BatchStatusValidating, BatchStatusInProgress, BatchStatusFinalizing, BatchStatusCancelling}
}

func (s BatchStatus) Active() bool {
	for _, a := range ActiveBatchStatuses() {
		if s == a {
			return true
		}
	}
	return false
}

// Unrecoverable statuses never produce an output file worth reading.
func (s BatchStatus) Unrecoverable() bool {
	return s == BatchStatusFailed || s == BatchStatusCancelled || s == BatchStatusExpired
}

// Metadata keys attached to every remote batch.
const (
	MetaJobID       = "job_id"
	MetaContentType = "content_type"
	MetaOwnerScope  = "owner_scope"
	MetaChunkIndex  = "chunk_index"
	MetaChunkTotal  = "chunk_total"
	MetaSource      = "source"
)

type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// RemoteBatchHandle mirrors a batch owned by the external service.
type RemoteBatchHandle struct {
	BatchID       string            `json:"batch_id"`
	InputRef      string            `json:"input_ref"`
	Endpoint      string            `json:"endpoint,omitempty"`
	Status        BatchStatus       `json:"status"`
	OutputRef     string            `json:"output_ref,omitempty"`
	ErrorRef      string            `json:"error_ref,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	RequestCounts RequestCounts     `json:"request_counts"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ReconciledAt  *time.Time        `json:"reconciled_at,omitempty"`
}
