//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/usecase"
)

func TestProgressUseCase(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a pending job with a sortable id", func(t *testing.T) {
		uc := usecase.NewProgressUseCase(newMemJobRepo(), newTestLogger())

		a, err := uc.Create(ctx, "a.jsonl", model.KindAnswer)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		b, err := uc.Create(ctx, "b.jsonl", model.KindAnswer)
		require.NoError(t, err)

		assert.Equal(t, model.JobStatusPending, a.Status)
		assert.Len(t, a.ID, 26)
		assert.Less(t, a.ID, b.ID)
	})

	t.Run("should reject a job without a source", func(t *testing.T) {
		uc := usecase.NewProgressUseCase(newMemJobRepo(), newTestLogger())

		_, err := uc.Create(ctx, "", model.KindAnswer)

		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should skip empty checkpoints", func(t *testing.T) {
		repo := newMemJobRepo()
		uc := usecase.NewProgressUseCase(repo, newTestLogger())
		job, _ := uc.Create(ctx, "a.jsonl", model.KindAnswer)

		require.NoError(t, uc.Checkpoint(ctx, job.ID, nil, nil))

		assert.Zero(t, repo.checkpoints)
	})

	t.Run("should return only unprocessed items on resume, in source order", func(t *testing.T) {
		uc := usecase.NewProgressUseCase(newMemJobRepo(), newTestLogger())
		job, _ := uc.Create(ctx, "a.jsonl", model.KindAnswer)
		items := newFakeSource(6).items
		require.NoError(t, uc.Checkpoint(ctx, job.ID, []string{items[0].CorrelationID, items[3].CorrelationID}, nil))
		require.NoError(t, uc.Checkpoint(ctx, job.ID, nil, []string{items[1].CorrelationID}))

		loaded, remaining, err := uc.Resume(ctx, job.ID, items)

		require.NoError(t, err)
		assert.Equal(t, 3, loaded.ProcessedCount())
		ids := make([]string, 0, len(remaining))
		for _, it := range remaining {
			ids = append(ids, it.CorrelationID)
		}
		assert.Equal(t, []string{items[2].CorrelationID, items[4].CorrelationID, items[5].CorrelationID}, ids)
	})

	t.Run("should only claim a finished job when resuming", func(t *testing.T) {
		uc := usecase.NewProgressUseCase(newMemJobRepo(), newTestLogger())
		job, _ := uc.Create(ctx, "a.jsonl", model.KindAnswer)
		require.NoError(t, uc.MarkStatus(ctx, job.ID, model.JobStatusError, "boom"))

		_, err := uc.Claim(ctx, job.ID, false)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

		claimed, err := uc.Claim(ctx, job.ID, true)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, claimed.Status)
		assert.Empty(t, claimed.ErrorMessage)
	})

	t.Run("should reject unknown statuses", func(t *testing.T) {
		uc := usecase.NewProgressUseCase(newMemJobRepo(), newTestLogger())
		job, _ := uc.Create(ctx, "a.jsonl", model.KindAnswer)

		err := uc.MarkStatus(ctx, job.ID, model.JobStatus("paused"), "")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)

		_, err = uc.List(ctx, model.JobStatus("paused"), 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should list jobs by status", func(t *testing.T) {
		uc := usecase.NewProgressUseCase(newMemJobRepo(), newTestLogger())
		a, _ := uc.Create(ctx, "a.jsonl", model.KindAnswer)
		_, _ = uc.Create(ctx, "b.jsonl", model.KindAnswer)
		require.NoError(t, uc.MarkStatus(ctx, a.ID, model.JobStatusDone, ""))

		done, err := uc.List(ctx, model.JobStatusDone, 10)
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, a.ID, done[0].ID)

		all, err := uc.List(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
