//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
)

func newJob(t *testing.T, id string, created time.Time) *model.Job {
	t.Helper()
	j, err := model.NewJob(id, "items.jsonl", model.KindAnswer, created)
	require.NoError(t, err)
	return j
}

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewJobRepo(testPool, NewTxManager(testPool))

	t.Run("should create and load a job", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, repo.Create(ctx, newJob(t, "job-1", time.Now().UTC())))

		got, err := repo.Load(ctx, "job-1")

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Nil(t, got.TotalItems)
		assert.Zero(t, got.ProcessedCount())
	})

	t.Run("should reject a duplicate id", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, repo.Create(ctx, newJob(t, "job-1", time.Now().UTC())))

		err := repo.Create(ctx, newJob(t, "job-1", time.Now().UTC()))

		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("should merge concurrent checkpoints without losing ids", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, repo.Create(ctx, newJob(t, "job-1", time.Now().UTC())))

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					id := fmt.Sprintf("answer-s-%d", w*25+i)
					if i%10 == 0 {
						assert.NoError(t, repo.Checkpoint(ctx, "job-1", nil, []string{id}))
						continue
					}
					assert.NoError(t, repo.Checkpoint(ctx, "job-1", []string{id}, nil))
				}
			}(w)
		}
		wg.Wait()

		got, err := repo.Load(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, 100, got.ProcessedCount())
		assert.Len(t, got.FailedIDs, 12)
	})

	t.Run("should report a checkpoint on a missing job", func(t *testing.T) {
		cleanup(t)
		err := repo.Checkpoint(ctx, "nope", []string{"a"}, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should claim processing jobs before older pending ones", func(t *testing.T) {
		cleanup(t)
		base := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, repo.Create(ctx, newJob(t, "old-pending", base)))
		require.NoError(t, repo.Create(ctx, newJob(t, "new-processing", base.Add(time.Minute))))
		require.NoError(t, repo.MarkStatus(ctx, "new-processing", model.JobStatusProcessing, ""))

		first, err := repo.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "new-processing", first.ID)

		require.NoError(t, repo.MarkStatus(ctx, "new-processing", model.JobStatusDone, ""))
		second, err := repo.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "old-pending", second.ID)
		assert.Equal(t, model.JobStatusProcessing, second.Status)

		require.NoError(t, repo.MarkStatus(ctx, "old-pending", model.JobStatusError, "boom"))
		_, err = repo.ClaimNext(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should requeue failed ids and reopen a done job", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, repo.Create(ctx, newJob(t, "job-1", time.Now().UTC())))
		require.NoError(t, repo.Checkpoint(ctx, "job-1", []string{"a", "b"}, []string{"c", "d"}))
		require.NoError(t, repo.MarkStatus(ctx, "job-1", model.JobStatusDone, ""))

		ids, err := repo.Requeue(ctx, "job-1")

		require.NoError(t, err)
		assert.Equal(t, []string{"c", "d"}, ids)
		got, _ := repo.Load(ctx, "job-1")
		assert.Equal(t, []string{"a", "b"}, got.ProcessedIDs.Sorted())
		assert.Empty(t, got.FailedIDs)
		assert.Equal(t, model.JobStatusProcessing, got.Status)
	})

	t.Run("should store the total and list by status", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, repo.Create(ctx, newJob(t, "job-1", time.Now().UTC())))
		require.NoError(t, repo.Create(ctx, newJob(t, "job-2", time.Now().UTC().Add(time.Second))))
		require.NoError(t, repo.SetTotal(ctx, "job-1", 10000))
		require.NoError(t, repo.MarkStatus(ctx, "job-2", model.JobStatusError, "source gone"))

		got, _ := repo.Load(ctx, "job-1")
		require.NotNil(t, got.TotalItems)
		assert.Equal(t, 10000, *got.TotalItems)

		failed, err := repo.List(ctx, model.JobStatusError, 10)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "source gone", failed[0].ErrorMessage)

		all, err := repo.List(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
