// Package http serves the read-only status API next to the ticker loops.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
	"content-batch-pipeline/internal/usecase"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	progress usecase.ProgressUseCase
	batches  repository.RemoteBatchRepository
	checks   map[string]HealthCheck
	log      *zerolog.Logger
	srv      *http.Server
}

// NewServer wires the routes. batches may be nil when no mirror is kept.
func NewServer(addr string, progress usecase.ProgressUseCase, batches repository.RemoteBatchRepository, checks map[string]HealthCheck, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "StatusServer").Logger()
	s := &Server{progress: progress, batches: batches, checks: checks, log: &l}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range []Middleware{RequestID(), Recover(s.log), RequestLog(s.log), Timeout(10 * time.Second)} {
		r.Use(mw)
	}
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{jobID}", s.handleGetJob)
	})
	r.Get("/batches", s.handleListBatches)
	return r
}

// Start blocks until the server stops; http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	out := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": out})
}

// JobView is a job without its ID sets.
type JobView struct {
	ID           string          `json:"id"`
	Status       model.JobStatus `json:"status"`
	Source       string          `json:"source"`
	Kind         string          `json:"kind,omitempty"`
	TotalItems   *int            `json:"total_items,omitempty"`
	Processed    int             `json:"processed"`
	Failed       int             `json:"failed"`
	ErrorMessage string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	LastUpdated  time.Time       `json:"last_updated"`
}

func toJobView(j *model.Job) JobView {
	return JobView{
		ID:           j.ID,
		Status:       j.Status,
		Source:       j.Source,
		Kind:         j.Kind,
		TotalItems:   j.TotalItems,
		Processed:    j.ProcessedCount(),
		Failed:       len(j.FailedIDs),
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		LastUpdated:  j.LastUpdated,
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	jobs, err := s.progress.List(r.Context(), model.JobStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toJobView(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.progress.Load(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	view := toJobView(job)
	writeJSON(w, http.StatusOK, struct {
		JobView
		FailedIDs []string `json:"failed_ids,omitempty"`
	}{view, job.FailedIDs.Sorted()})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if s.batches == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	var statuses []model.BatchStatus
	if v := r.URL.Query().Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			statuses = append(statuses, model.BatchStatus(strings.TrimSpace(st)))
		}
	}
	hs, err := s.batches.ListByStatus(r.Context(), statuses...)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if hs == nil {
		hs = []*model.RemoteBatchHandle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": hs})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("status request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
