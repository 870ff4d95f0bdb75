//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// -----------------------------
// Fake clock
// -----------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// =============================
// Repositories
// =============================

// memJobRepo is an in-memory JobRepository with the same additive semantics
// as the real stores.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	seq  int

	CheckpointFunc func(ctx context.Context, jobID string, processed, failed []string) error
	checkpoints    int
}

var _ repository.JobRepository = (*memJobRepo)(nil)

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*model.Job)}
}

func cloneJob(j *model.Job) *model.Job {
	cp := *j
	cp.ProcessedIDs = model.NewIDSet()
	for id := range j.ProcessedIDs {
		cp.ProcessedIDs[id] = struct{}{}
	}
	cp.FailedIDs = model.NewIDSet()
	for id := range j.FailedIDs {
		cp.FailedIDs[id] = struct{}{}
	}
	if j.TotalItems != nil {
		n := *j.TotalItems
		cp.TotalItems = &n
	}
	return &cp
}

func (m *memJobRepo) Create(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.seq++
	cp := cloneJob(job)
	// keep creation order stable for claims
	cp.CreatedAt = cp.CreatedAt.Add(time.Duration(m.seq))
	m.jobs[job.ID] = cp
	return nil
}

func (m *memJobRepo) Load(_ context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *memJobRepo) Checkpoint(ctx context.Context, jobID string, processed, failed []string) error {
	if m.CheckpointFunc != nil {
		if err := m.CheckpointFunc(ctx, jobID, processed, failed); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Apply(processed, failed, time.Now())
	m.checkpoints++
	return nil
}

func (m *memJobRepo) MarkStatus(_ context.Context, jobID string, status model.JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.ErrorMessage = errMsg
	return nil
}

func (m *memJobRepo) SetTotal(_ context.Context, jobID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.TotalItems = &total
	return nil
}

func (m *memJobRepo) ClaimNext(_ context.Context) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pick := func(status model.JobStatus) *model.Job {
		var best *model.Job
		for _, j := range m.jobs {
			if j.Status == status && (best == nil || j.CreatedAt.Before(best.CreatedAt)) {
				best = j
			}
		}
		return best
	}
	j := pick(model.JobStatusProcessing)
	if j == nil {
		j = pick(model.JobStatusPending)
	}
	if j == nil {
		return nil, domain.ErrNotFound
	}
	j.Status = model.JobStatusProcessing
	return cloneJob(j), nil
}

func (m *memJobRepo) Requeue(_ context.Context, jobID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Requeue(time.Now()), nil
}

func (m *memJobRepo) List(_ context.Context, status model.JobStatus, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memContentRepo enforces the (scope, slug) natural key.
type memContentRepo struct {
	mu      sync.Mutex
	records map[string]*model.GeneratedContent

	UpsertFunc func(ctx context.Context, c *model.GeneratedContent) error
}

var _ repository.ContentRepository = (*memContentRepo)(nil)

func newMemContentRepo() *memContentRepo {
	return &memContentRepo{records: make(map[string]*model.GeneratedContent)}
}

func (m *memContentRepo) Upsert(ctx context.Context, _ repository.Tx, c *model.GeneratedContent) (string, bool, error) {
	if m.UpsertFunc != nil {
		if err := m.UpsertFunc(ctx, c); err != nil {
			return "", false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.ScopeID + "/" + c.Slug
	if existing, ok := m.records[key]; ok {
		return existing.ID, false, nil
	}
	cp := *c
	cp.ID = uuid.NewString()
	m.records[key] = &cp
	return cp.ID, true, nil
}

func (m *memContentRepo) FindByKey(_ context.Context, _ repository.Tx, scopeID, slug string) (*model.GeneratedContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[scopeID+"/"+slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memContentRepo) CountByScope(_ context.Context, _ repository.Tx, scopeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.records {
		if c.ScopeID == scopeID {
			n++
		}
	}
	return n, nil
}

func (m *memContentRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// memMirror is an in-memory RemoteBatchRepository.
type memMirror struct {
	mu      sync.Mutex
	handles map[string]*model.RemoteBatchHandle

	UpsertFunc func(ctx context.Context, h *model.RemoteBatchHandle) error
}

var _ repository.RemoteBatchRepository = (*memMirror)(nil)

func newMemMirror() *memMirror {
	return &memMirror{handles: make(map[string]*model.RemoteBatchHandle)}
}

func (m *memMirror) Upsert(ctx context.Context, h *model.RemoteBatchHandle) error {
	if m.UpsertFunc != nil {
		if err := m.UpsertFunc(ctx, h); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	if prev, ok := m.handles[h.BatchID]; ok && cp.ReconciledAt == nil {
		cp.ReconciledAt = prev.ReconciledAt
	}
	m.handles[h.BatchID] = &cp
	return nil
}

func (m *memMirror) FindByID(_ context.Context, batchID string) (*model.RemoteBatchHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *memMirror) ListByStatus(_ context.Context, statuses ...model.BatchStatus) ([]*model.RemoteBatchHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RemoteBatchHandle
	for _, h := range m.handles {
		for _, s := range statuses {
			if h.Status == s {
				cp := *h
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *memMirror) MarkReconciled(_ context.Context, batchID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	h.ReconciledAt = &at
	return nil
}

// =============================
// Adapters
// =============================

type fakeSource struct {
	items    []model.WorkItem
	rejected []model.RejectedItem
	err      error
}

var _ adapter.ItemSource = (*fakeSource)(nil)

func newFakeSource(n int) *fakeSource {
	items := make([]model.WorkItem, n)
	for i := range items {
		items[i] = model.WorkItem{
			CorrelationID: model.NewCorrelationID(model.KindAnswer, "scope1", int64(i+1)).String(),
			Status:        model.ItemStatusPending,
		}
	}
	return &fakeSource{items: items}
}

func (s *fakeSource) Items(context.Context, string) ([]model.WorkItem, []model.RejectedItem, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	out := make([]model.WorkItem, len(s.items))
	copy(out, s.items)
	return out, s.rejected, nil
}

// recordingAPI counts calls per ID and stamps them with the fake clock.
type recordingAPI struct {
	mu    sync.Mutex
	clock *fakeClock
	calls map[string]int
	at    []time.Time

	CallFunc func(ctx context.Context, item model.WorkItem) error
}

var _ adapter.ItemAPI = (*recordingAPI)(nil)

func newRecordingAPI(clock *fakeClock) *recordingAPI {
	return &recordingAPI{clock: clock, calls: make(map[string]int)}
}

func (a *recordingAPI) Call(ctx context.Context, item model.WorkItem) error {
	a.mu.Lock()
	a.calls[item.CorrelationID]++
	if a.clock != nil {
		a.at = append(a.at, a.clock.Now())
	}
	a.mu.Unlock()
	if a.CallFunc != nil {
		return a.CallFunc(ctx, item)
	}
	return nil
}

func (a *recordingAPI) count(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[id]
}

type noWaitLimiter struct{ waits int }

func (l *noWaitLimiter) Wait(ctx context.Context) error {
	l.waits++
	return ctx.Err()
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]string)} }

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrJobLocked
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// fakeBatchService keeps batches and files in memory.
type fakeBatchService struct {
	mu      sync.Mutex
	batches map[string]*model.RemoteBatchHandle
	files   map[string]string
	seq     int

	uploads   int
	downloads int

	UploadFunc      func(ctx context.Context, name string) error
	CreateBatchFunc func(ctx context.Context, req adapter.CreateBatchRequest) error
	ListErr         error
}

var _ adapter.BatchService = (*fakeBatchService)(nil)

func newFakeBatchService() *fakeBatchService {
	return &fakeBatchService{batches: make(map[string]*model.RemoteBatchHandle), files: make(map[string]string)}
}

func (f *fakeBatchService) addBatch(h model.RemoteBatchHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := h
	f.batches[h.BatchID] = &cp
}

func (f *fakeBatchService) addFile(ref, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[ref] = content
}

func (f *fakeBatchService) setStatus(batchID string, s model.BatchStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[batchID].Status = s
}

func (f *fakeBatchService) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	f.mu.Lock()
	f.uploads++
	f.mu.Unlock()
	if f.UploadFunc != nil {
		if err := f.UploadFunc(ctx, name); err != nil {
			return "", err
		}
	}
	b, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ref := fmt.Sprintf("file-%d", f.seq)
	f.files[ref] = string(b)
	return ref, nil
}

func (f *fakeBatchService) CreateBatch(ctx context.Context, req adapter.CreateBatchRequest) (*model.RemoteBatchHandle, error) {
	if f.CreateBatchFunc != nil {
		if err := f.CreateBatchFunc(ctx, req); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	h := &model.RemoteBatchHandle{
		BatchID:  fmt.Sprintf("batch-%d", f.seq),
		InputRef: req.InputRef,
		Endpoint: req.Endpoint,
		Status:   model.BatchStatusValidating,
		Metadata: req.Metadata,
	}
	f.batches[h.BatchID] = h
	cp := *h
	return &cp, nil
}

func (f *fakeBatchService) GetBatch(_ context.Context, batchID string) (*model.RemoteBatchHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (f *fakeBatchService) ListBatches(_ context.Context, statuses ...model.BatchStatus) ([]model.RemoteBatchHandle, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RemoteBatchHandle
	for _, h := range f.batches {
		if len(statuses) == 0 {
			out = append(out, *h)
			continue
		}
		for _, s := range statuses {
			if h.Status == s {
				out = append(out, *h)
				break
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].BatchID < out[b].BatchID })
	return out, nil
}

func (f *fakeBatchService) DownloadFile(_ context.Context, ref string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	content, ok := f.files[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (f *fakeBatchService) CancelBatch(_ context.Context, batchID string) (*model.RemoteBatchHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	h.Status = model.BatchStatusCancelling
	cp := *h
	return &cp, nil
}
