//go:build !integration

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func batchJSON(id, status string, md map[string]string) map[string]any {
	return map[string]any{
		"id":                id,
		"object":            "batch",
		"endpoint":          "/v1/chat/completions",
		"input_file_id":     "file-in",
		"output_file_id":    "file-out",
		"completion_window": "24h",
		"status":            status,
		"created_at":        1714550400,
		"metadata":          md,
		"request_counts":    map[string]any{"total": 3, "completed": 2, "failed": 1},
	}
}

type fakeOpenAI struct {
	mu       sync.Mutex
	uploaded string
	purpose  string
	created  map[string]any
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("POST /v1/files", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		b, _ := io.ReadAll(file)
		f.mu.Lock()
		f.uploaded = string(b)
		f.purpose = r.FormValue("purpose")
		f.mu.Unlock()
		writeJSON(w, 200, map[string]any{
			"id": "file-in", "object": "file", "bytes": len(b), "created_at": 1714550400,
			"filename": "part.jsonl", "purpose": "batch", "status": "processed",
		})
	})
	mux.HandleFunc("POST /v1/batches", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.created = body
		f.mu.Unlock()
		md := map[string]string{}
		for k, v := range body["metadata"].(map[string]any) {
			md[k] = v.(string)
		}
		writeJSON(w, 200, batchJSON("batch_1", "validating", md))
	})
	mux.HandleFunc("GET /v1/batches/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			writeJSON(w, 404, map[string]any{"error": map[string]any{"message": "No batch found", "type": "invalid_request_error"}})
			return
		}
		if r.PathValue("id") == "flaky" {
			writeJSON(w, 503, map[string]any{"error": map[string]any{"message": "overloaded", "type": "server_error"}})
			return
		}
		writeJSON(w, 200, batchJSON(r.PathValue("id"), "completed", nil))
	})
	mux.HandleFunc("POST /v1/batches/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, batchJSON(r.PathValue("id"), "cancelling", nil))
	})
	mux.HandleFunc("GET /v1/batches", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			writeJSON(w, 200, map[string]any{
				"object": "list", "has_more": true, "first_id": "b1", "last_id": "b2",
				"data": []any{batchJSON("b1", "in_progress", nil), batchJSON("b2", "completed", nil)},
			})
			return
		}
		writeJSON(w, 200, map[string]any{
			"object": "list", "has_more": false, "first_id": "b3", "last_id": "b3",
			"data": []any{batchJSON("b3", "finalizing", nil)},
		})
	})
	mux.HandleFunc("GET /v1/files/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, `{"custom_id":"answer-s-1"}`+"\n")
	})
	return mux
}

func newTestBatchService(t *testing.T) (*OpenAIBatchService, *fakeOpenAI) {
	t.Helper()
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	svc, err := NewOpenAIBatchService(config.BatchConfig{
		APIKey:         "sk-test",
		BaseURL:        srv.URL + "/v1/",
		RequestTimeout: 5 * time.Second,
		MaxRetries:     0,
	}, newTestLogger())
	require.NoError(t, err)
	return svc, fake
}

func TestOpenAIBatchService(t *testing.T) {
	ctx := context.Background()

	t.Run("should require an api key", func(t *testing.T) {
		_, err := NewOpenAIBatchService(config.BatchConfig{}, newTestLogger())
		assert.Error(t, err)
	})

	t.Run("should upload the part for batch use", func(t *testing.T) {
		svc, fake := newTestBatchService(t)

		ref, err := svc.Upload(ctx, "part.jsonl", strings.NewReader("line\n"))

		require.NoError(t, err)
		assert.Equal(t, "file-in", ref)
		assert.Equal(t, "line\n", fake.uploaded)
		assert.Equal(t, "batch", fake.purpose)
	})

	t.Run("should create a batch with metadata", func(t *testing.T) {
		svc, fake := newTestBatchService(t)

		h, err := svc.CreateBatch(ctx, adapter.CreateBatchRequest{
			InputRef: "file-in",
			Endpoint: "/v1/chat/completions",
			Metadata: map[string]string{model.MetaJobID: "job-1"},
		})

		require.NoError(t, err)
		assert.Equal(t, "batch_1", h.BatchID)
		assert.Equal(t, model.BatchStatusValidating, h.Status)
		assert.Equal(t, "job-1", h.Metadata[model.MetaJobID])
		assert.Equal(t, "24h", fake.created["completion_window"])
		assert.Equal(t, "file-in", fake.created["input_file_id"])
	})

	t.Run("should map a batch into a handle", func(t *testing.T) {
		svc, _ := newTestBatchService(t)

		h, err := svc.GetBatch(ctx, "batch_9")

		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCompleted, h.Status)
		assert.Equal(t, "file-out", h.OutputRef)
		assert.Equal(t, model.RequestCounts{Total: 3, Completed: 2, Failed: 1}, h.RequestCounts)
		assert.Equal(t, int64(1714550400), h.CreatedAt.Unix())
	})

	t.Run("should map 404 to not found and 5xx to a transient error", func(t *testing.T) {
		svc, _ := newTestBatchService(t)

		_, err := svc.GetBatch(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = svc.GetBatch(ctx, "flaky")
		var ie *domain.ItemError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, 503, ie.StatusCode)
		assert.True(t, domain.IsTransient(err))
	})

	t.Run("should page through batches and filter by status", func(t *testing.T) {
		svc, _ := newTestBatchService(t)

		active, err := svc.ListBatches(ctx, model.ActiveBatchStatuses()...)
		require.NoError(t, err)
		ids := []string{}
		for _, h := range active {
			ids = append(ids, h.BatchID)
		}
		assert.Equal(t, []string{"b1", "b3"}, ids)

		all, err := svc.ListBatches(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("should stream file content", func(t *testing.T) {
		svc, _ := newTestBatchService(t)

		rc, err := svc.DownloadFile(ctx, "file-out")
		require.NoError(t, err)
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		assert.Equal(t, `{"custom_id":"answer-s-1"}`+"\n", string(b))
	})

	t.Run("should request cancellation", func(t *testing.T) {
		svc, _ := newTestBatchService(t)

		h, err := svc.CancelBatch(ctx, "batch_1")

		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCancelling, h.Status)
	})
}
