//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-batch-pipeline/internal/domain"
)

func TestJob(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("should reject a job without source", func(t *testing.T) {
		_, err := NewJob("job-1", "", "answer", now)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	})

	t.Run("should count failures as processed and keep both sets additive", func(t *testing.T) {
		job, err := NewJob("job-1", "items.jsonl", "answer", now)
		require.NoError(t, err)

		job.Apply([]string{"a", "b"}, nil, now)
		job.Apply([]string{"a"}, []string{"c"}, now.Add(time.Second))

		assert.Equal(t, 3, job.ProcessedCount())
		assert.Equal(t, []string{"c"}, job.FailedIDs.Sorted())
		assert.Equal(t, now.Add(time.Second), job.LastUpdated)
	})

	t.Run("should be complete only once a total is known and reached", func(t *testing.T) {
		job, _ := NewJob("job-1", "items.jsonl", "", now)
		job.Apply([]string{"a"}, nil, now)
		assert.False(t, job.IsComplete())

		total := 2
		job.TotalItems = &total
		assert.False(t, job.IsComplete())
		job.Apply([]string{"b"}, nil, now)
		assert.True(t, job.IsComplete())
	})

	t.Run("should filter processed items in their original order", func(t *testing.T) {
		job, _ := NewJob("job-1", "items.jsonl", "", now)
		job.Apply([]string{"b"}, nil, now)
		items := []WorkItem{{CorrelationID: "a"}, {CorrelationID: "b"}, {CorrelationID: "c"}}

		rest := job.Remaining(items)

		require.Len(t, rest, 2)
		assert.Equal(t, "a", rest[0].CorrelationID)
		assert.Equal(t, "c", rest[1].CorrelationID)
	})

	t.Run("should requeue only the failed subset", func(t *testing.T) {
		job, _ := NewJob("job-1", "items.jsonl", "", now)
		job.Status = JobStatusDone
		job.Apply([]string{"a"}, []string{"b", "c"}, now)

		ids := job.Requeue(now)

		assert.Equal(t, []string{"b", "c"}, ids)
		assert.Equal(t, []string{"a"}, job.ProcessedIDs.Sorted())
		assert.Empty(t, job.FailedIDs)
		assert.Equal(t, JobStatusProcessing, job.Status)
	})

	t.Run("should only leave error when resuming", func(t *testing.T) {
		job, _ := NewJob("job-1", "items.jsonl", "", now)
		job.Status = JobStatusError

		err := job.CanTransition(JobStatusProcessing, false)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
		assert.NoError(t, job.CanTransition(JobStatusProcessing, true))
	})
}

func TestWorkItemTransition(t *testing.T) {
	item, err := NewWorkItem("answer-1-1", nil)
	require.NoError(t, err)

	require.NoError(t, item.Transition(ItemStatusSubmitted))
	require.NoError(t, item.Transition(ItemStatusSucceeded))
	assert.True(t, errors.Is(item.Transition(ItemStatusPending), domain.ErrInvalidTransition))
}
