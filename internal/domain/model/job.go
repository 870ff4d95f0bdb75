package model

import (
	"fmt"
	"sort"
	"time"

	"content-batch-pipeline/internal/domain"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusDone, JobStatusError:
		return true
	}
	return false
}

// IDSet is an unordered set of job-local item IDs.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	s.Add(ids...)
	return s
}

func (s IDSet) Add(ids ...string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Remove(ids ...string) {
	for _, id := range ids {
		delete(s, id)
	}
}

// Sorted returns the members in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Job is the resumable progress aggregate. ProcessedIDs holds every attempted
// item, FailedIDs the subset that failed. Both only grow, except through Requeue.
type Job struct {
	ID           string
	Status       JobStatus
	Source       string
	Kind         string
	TotalItems   *int
	ProcessedIDs IDSet
	FailedIDs    IDSet
	ErrorMessage string
	CreatedAt    time.Time
	LastUpdated  time.Time
}

func NewJob(id, source, kind string, now time.Time) (*Job, error) {
	if id == "" || source == "" {
		return nil, fmt.Errorf("%w: job id and source are required", domain.ErrInvalidArgument)
	}
	return &Job{
		ID:           id,
		Status:       JobStatusPending,
		Source:       source,
		Kind:         kind,
		ProcessedIDs: NewIDSet(),
		FailedIDs:    NewIDSet(),
		CreatedAt:    now,
		LastUpdated:  now,
	}, nil
}

func (j *Job) ProcessedCount() int { return len(j.ProcessedIDs) }

// IsComplete reports whether the cursor has reached the discovered total.
func (j *Job) IsComplete() bool {
	return j.TotalItems != nil && j.ProcessedCount() >= *j.TotalItems
}

// Apply merges a checkpoint delta. Failed IDs are also counted as processed.
func (j *Job) Apply(processed, failed []string, now time.Time) {
	if j.ProcessedIDs == nil {
		j.ProcessedIDs = NewIDSet()
	}
	if j.FailedIDs == nil {
		j.FailedIDs = NewIDSet()
	}
	j.ProcessedIDs.Add(processed...)
	j.ProcessedIDs.Add(failed...)
	j.FailedIDs.Add(failed...)
	j.LastUpdated = now
}

// Requeue drops the failed subset from both sets so a resumed run retries it.
// It returns the IDs that were requeued.
func (j *Job) Requeue(now time.Time) []string {
	ids := j.FailedIDs.Sorted()
	j.ProcessedIDs.Remove(ids...)
	j.FailedIDs = NewIDSet()
	if len(ids) > 0 && j.Status == JobStatusDone {
		j.Status = JobStatusProcessing
	}
	j.LastUpdated = now
	return ids
}

// Remaining filters items already present in ProcessedIDs, keeping order.
func (j *Job) Remaining(items []WorkItem) []WorkItem {
	out := make([]WorkItem, 0, len(items))
	for _, it := range items {
		if !j.ProcessedIDs.Has(it.CorrelationID) {
			out = append(out, it)
		}
	}
	return out
}

// CanTransition enforces pending -> processing -> {done|error}. Leaving error
// or done back to processing is the resume path and must be asked for.
func (j *Job) CanTransition(next JobStatus, resume bool) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown job status %q", domain.ErrInvalidArgument, next)
	}
	switch j.Status {
	case JobStatusPending:
		return nil
	case JobStatusProcessing:
		if next != JobStatusPending {
			return nil
		}
	case JobStatusError, JobStatusDone:
		if next == j.Status || next == JobStatusError || (resume && next == JobStatusProcessing) {
			return nil
		}
	}
	return fmt.Errorf("%w: job %s %s -> %s", domain.ErrInvalidTransition, j.ID, j.Status, next)
}
