//go:build !integration

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), newTestLogger())
	require.NoError(t, err)
	return s
}

func mustJob(t *testing.T, id string, created time.Time) *model.Job {
	t.Helper()
	j, err := model.NewJob(id, "items.jsonl", model.KindAnswer, created)
	require.NoError(t, err)
	return j
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should write the documented layout", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Create(ctx, mustJob(t, "job-1", time.Now().UTC())))
		require.NoError(t, s.Checkpoint(ctx, "job-1", []string{"b", "a"}, []string{"c"}))
		require.NoError(t, s.SetTotal(ctx, "job-1", 10))

		raw, err := os.ReadFile(filepath.Join(s.dir, "job-1.json"))
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(raw, &doc))
		assert.Equal(t, []any{"a", "b", "c"}, doc["processedIds"])
		assert.Equal(t, []any{"c"}, doc["failedIds"])
		assert.Equal(t, float64(10), doc["totalFound"])
		assert.Contains(t, doc, "lastRun")
	})

	t.Run("should refuse to create a job twice", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Create(ctx, mustJob(t, "job-1", time.Now().UTC())))

		err := s.Create(ctx, mustJob(t, "job-1", time.Now().UTC()))

		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("should reject a truncated checkpoint", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, os.WriteFile(filepath.Join(s.dir, "job-1.json"), []byte(`{"id":"job-1","processedIds":["a",`), 0o644))

		_, err := s.Load(ctx, "job-1")

		assert.ErrorIs(t, err, domain.ErrCorruptCheckpoint)
	})

	t.Run("should keep the previous document when a write fails midway", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Create(ctx, mustJob(t, "job-1", time.Now().UTC())))
		require.NoError(t, s.Checkpoint(ctx, "job-1", []string{"a"}, nil))
		// a leftover temp file from a crashed writer is ignored
		require.NoError(t, os.WriteFile(filepath.Join(s.dir, ".job-1.json.tmp-123"), []byte(`{"id":`), 0o644))

		j, err := s.Load(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, j.ProcessedIDs.Sorted())

		jobs, err := s.List(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
	})

	t.Run("should not lose ids under concurrent checkpoints", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Create(ctx, mustJob(t, "job-1", time.Now().UTC())))

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					assert.NoError(t, s.Checkpoint(ctx, "job-1", []string{fmt.Sprintf("id-%d-%d", w, i)}, nil))
				}
			}(w)
		}
		wg.Wait()

		j, err := s.Load(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, 160, j.ProcessedCount())
	})

	t.Run("should claim processing before pending and skip finished jobs", func(t *testing.T) {
		s := newTestStore(t)
		base := time.Now().UTC()
		require.NoError(t, s.Create(ctx, mustJob(t, "a", base)))
		require.NoError(t, s.Create(ctx, mustJob(t, "b", base.Add(time.Second))))
		require.NoError(t, s.Create(ctx, mustJob(t, "c", base.Add(2*time.Second))))
		require.NoError(t, s.MarkStatus(ctx, "a", model.JobStatusDone, ""))
		require.NoError(t, s.MarkStatus(ctx, "c", model.JobStatusProcessing, ""))

		j, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "c", j.ID)

		require.NoError(t, s.MarkStatus(ctx, "c", model.JobStatusError, "source gone"))
		j, err = s.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "b", j.ID)
		stored, _ := s.Load(ctx, "b")
		assert.Equal(t, model.JobStatusProcessing, stored.Status)

		require.NoError(t, s.MarkStatus(ctx, "b", model.JobStatusDone, ""))
		_, err = s.ClaimNext(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should requeue the failed subset", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Create(ctx, mustJob(t, "job-1", time.Now().UTC())))
		require.NoError(t, s.Checkpoint(ctx, "job-1", []string{"a"}, []string{"b"}))
		require.NoError(t, s.MarkStatus(ctx, "job-1", model.JobStatusDone, ""))

		ids, err := s.Requeue(ctx, "job-1")

		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids)
		j, _ := s.Load(ctx, "job-1")
		assert.Equal(t, []string{"a"}, j.ProcessedIDs.Sorted())
		assert.Equal(t, model.JobStatusProcessing, j.Status)
	})

	t.Run("should reject path-like job ids", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Load(ctx, "../escape")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should report unknown jobs", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, s.Checkpoint(ctx, "missing", []string{"a"}, nil), domain.ErrNotFound)
	})
}

func TestBatchMirror(t *testing.T) {
	ctx := context.Background()

	t.Run("should keep the reconciled mark across upserts", func(t *testing.T) {
		m, err := NewBatchMirror(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, m.Upsert(ctx, &model.RemoteBatchHandle{BatchID: "b1", InputRef: "f1", Status: model.BatchStatusInProgress}))
		at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, m.MarkReconciled(ctx, "b1", at))

		require.NoError(t, m.Upsert(ctx, &model.RemoteBatchHandle{BatchID: "b1", Status: model.BatchStatusCompleted}))

		h, err := m.FindByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "f1", h.InputRef)
		require.NotNil(t, h.ReconciledAt)
		assert.True(t, at.Equal(*h.ReconciledAt))

		active, err := m.ListByStatus(ctx, model.ActiveBatchStatuses()...)
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}

func TestContentStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert once per scope and slug", func(t *testing.T) {
		s, err := NewContentStore(t.TempDir())
		require.NoError(t, err)
		id := model.NewCorrelationID(model.KindAnswer, "scope-1", 3)

		first := model.NewGeneratedContent(id, time.Now().UTC())
		first.Body = "one"
		recID, inserted, err := s.Upsert(ctx, nil, first)
		require.NoError(t, err)
		assert.True(t, inserted)

		second := model.NewGeneratedContent(id, time.Now().UTC())
		second.Body = "two"
		recID2, inserted, err := s.Upsert(ctx, nil, second)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, recID, recID2)

		got, err := s.FindByKey(ctx, nil, "scope-1", "answer-3")
		require.NoError(t, err)
		assert.Equal(t, "one", got.Body)
		n, err := s.CountByScope(ctx, nil, "scope-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("should recover a key file left empty by an interrupted write", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewContentStore(dir)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "scope-2"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "scope-2", "answer-4.json"), nil, 0o644))

		c := model.NewGeneratedContent(model.NewCorrelationID(model.KindAnswer, "scope-2", 4), time.Now().UTC())
		c.Body = "recovered"
		recID, inserted, err := s.Upsert(ctx, nil, c)
		require.NoError(t, err)
		assert.True(t, inserted)

		got, err := s.FindByKey(ctx, nil, "scope-2", "answer-4")
		require.NoError(t, err)
		assert.Equal(t, recID, got.ID)
		assert.Equal(t, "recovered", got.Body)

		entries, err := os.ReadDir(filepath.Join(dir, "scope-2"))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp files must not be left behind")
	})
}
