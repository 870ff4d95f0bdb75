// Package checkpoint is the file-backed job progress store: one JSON document
// per job, replaced atomically on every write.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*Store)(nil)

// document is the on-disk checkpoint layout.
type document struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	Kind         string    `json:"kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	ProcessedIDs []string  `json:"processedIds"`
	FailedIDs    []string  `json:"failedIds"`
	LastRun      time.Time `json:"lastRun"`
	TotalFound   *int      `json:"totalFound"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toDocument(j *model.Job) document {
	return document{
		ID:           j.ID,
		Status:       string(j.Status),
		Source:       j.Source,
		Kind:         j.Kind,
		Error:        j.ErrorMessage,
		ProcessedIDs: j.ProcessedIDs.Sorted(),
		FailedIDs:    j.FailedIDs.Sorted(),
		LastRun:      j.LastUpdated,
		TotalFound:   j.TotalItems,
		CreatedAt:    j.CreatedAt,
	}
}

func (d document) job() *model.Job {
	return &model.Job{
		ID:           d.ID,
		Status:       model.JobStatus(d.Status),
		Source:       d.Source,
		Kind:         d.Kind,
		TotalItems:   d.TotalFound,
		ProcessedIDs: model.NewIDSet(d.ProcessedIDs...),
		FailedIDs:    model.NewIDSet(d.FailedIDs...),
		ErrorMessage: d.Error,
		CreatedAt:    d.CreatedAt,
		LastUpdated:  d.LastRun,
	}
}

// Store keeps jobs under dir/jobs. Writers in one process are serialized by
// a mutex; separate processes sharing a directory need the claim lock.
type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
	log *zerolog.Logger
}

func NewStore(dir string, logger *zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: checkpoint directory is required", domain.ErrInvalidArgument)
	}
	jobs := filepath.Join(dir, "jobs")
	if err := os.MkdirAll(jobs, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	l := logger.With().Str("component", "CheckpointStore").Logger()
	return &Store{dir: jobs, now: time.Now, log: &l}, nil
}

func (s *Store) path(jobID string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return "", fmt.Errorf("%w: job id %q", domain.ErrInvalidArgument, jobID)
	}
	return filepath.Join(s.dir, jobID+".json"), nil
}

func (s *Store) read(jobID string) (*model.Job, error) {
	p, err := s.path(jobID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var d document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptCheckpoint, p, err)
	}
	if d.ID == "" || !model.JobStatus(d.Status).Valid() {
		return nil, fmt.Errorf("%w: %s: missing id or status", domain.ErrCorruptCheckpoint, p)
	}
	return d.job(), nil
}

func (s *Store) write(j *model.Job) error {
	p, err := s.path(j.ID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(toDocument(j), "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(p, b, 0o644)
}

func (s *Store) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.read(job.ID); err == nil {
		return fmt.Errorf("%w: job %s", domain.ErrAlreadyExists, job.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return s.write(job)
}

func (s *Store) Load(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(jobID)
}

// update applies fn to the stored job and writes it back under the lock.
func (s *Store) update(jobID string, fn func(j *model.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.read(jobID)
	if err != nil {
		return err
	}
	if err := fn(j); err != nil {
		return err
	}
	return s.write(j)
}

func (s *Store) Checkpoint(_ context.Context, jobID string, processed, failed []string) error {
	return s.update(jobID, func(j *model.Job) error {
		j.Apply(processed, failed, s.now().UTC())
		return nil
	})
}

func (s *Store) MarkStatus(_ context.Context, jobID string, status model.JobStatus, errMsg string) error {
	return s.update(jobID, func(j *model.Job) error {
		j.Status = status
		j.ErrorMessage = errMsg
		j.LastUpdated = s.now().UTC()
		return nil
	})
}

func (s *Store) SetTotal(_ context.Context, jobID string, total int) error {
	return s.update(jobID, func(j *model.Job) error {
		j.TotalItems = &total
		j.LastUpdated = s.now().UTC()
		return nil
	})
}

func (s *Store) Requeue(_ context.Context, jobID string) ([]string, error) {
	var ids []string
	err := s.update(jobID, func(j *model.Job) error {
		ids = j.Requeue(s.now().UTC())
		return nil
	})
	return ids, err
}

// all loads every readable job. Corrupt files are logged and skipped so one
// bad document cannot block the queue.
func (s *Store) all() ([]*model.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*model.Job
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		j, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable checkpoint")
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (s *Store) ClaimNext(_ context.Context) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.all()
	if err != nil {
		return nil, err
	}
	pick := func(status model.JobStatus) *model.Job {
		for _, j := range jobs {
			if j.Status == status {
				return j
			}
		}
		return nil
	}
	j := pick(model.JobStatusProcessing)
	if j == nil {
		j = pick(model.JobStatusPending)
	}
	if j == nil {
		return nil, domain.ErrNotFound
	}
	if j.Status == model.JobStatusPending {
		j.Status = model.JobStatusProcessing
		j.LastUpdated = s.now().UTC()
		if err := s.write(j); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (s *Store) List(_ context.Context, status model.JobStatus, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.all()
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
