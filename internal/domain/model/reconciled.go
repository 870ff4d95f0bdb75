package model

type Outcome string

const (
	OutcomeRecovered Outcome = "recovered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ReconciledResult is what recovery made of one result record.
type ReconciledResult struct {
	CorrelationID  string
	Success        bool
	TargetRecordID string
	Error          string
	Outcome        Outcome
}
