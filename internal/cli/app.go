package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/domain/ports/repository"
	"content-batch-pipeline/internal/infra/adapters/ai"
	"content-batch-pipeline/internal/infra/adapters/itemapi"
	"content-batch-pipeline/internal/infra/checkpoint"
	pg "content-batch-pipeline/internal/infra/db/postgres"
	"content-batch-pipeline/internal/infra/ratelimit"
	red "content-batch-pipeline/internal/infra/redis"
	"content-batch-pipeline/internal/infra/storage"
	"content-batch-pipeline/internal/infra/telegram"
	"content-batch-pipeline/internal/usecase"
)

// app owns the configuration and every dependency a command asks for.
// Dependencies are built on first use so that "split" never dials a database.
type app struct {
	configPath string
	dev        bool
	jsonOut    bool

	cfg *config.Config
	log *zerolog.Logger
	out io.Writer

	pool     *pgxpool.Pool
	jobRepo  repository.JobRepository
	mirror   repository.RemoteBatchRepository
	content  repository.ContentRepository
	batchSvc adapter.BatchService

	redisReady bool
	locker     adapter.Locker
	limiter    adapter.RateLimiter
	redisPing  func(ctx context.Context) error

	closers []func() error
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := pg.NewPgxPool(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if a.cfg.Database.MigrateOnStart {
		if err := pg.Migrate(pool, a.log); err != nil {
			pool.Close()
			return nil, err
		}
	}
	a.onClose(func() error { pool.Close(); return nil })
	a.pool = pool
	return pool, nil
}

func (a *app) usesPostgres() bool { return a.cfg.Store.Driver == "postgres" }

func (a *app) jobs(ctx context.Context) (repository.JobRepository, error) {
	if a.jobRepo != nil {
		return a.jobRepo, nil
	}
	if a.usesPostgres() {
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		a.jobRepo = pg.NewJobRepo(pool, pg.NewTxManager(pool))
		return a.jobRepo, nil
	}
	store, err := checkpoint.NewStore(a.cfg.Store.Dir, a.log)
	if err != nil {
		return nil, err
	}
	a.jobRepo = store
	return store, nil
}

func (a *app) batchMirror(ctx context.Context) (repository.RemoteBatchRepository, error) {
	if a.mirror != nil {
		return a.mirror, nil
	}
	if a.usesPostgres() {
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		a.mirror = pg.NewRemoteBatchRepo(pool)
		return a.mirror, nil
	}
	m, err := checkpoint.NewBatchMirror(a.cfg.Store.Dir)
	if err != nil {
		return nil, err
	}
	a.mirror = m
	return m, nil
}

func (a *app) contentRepo(ctx context.Context) (repository.ContentRepository, error) {
	if a.content != nil {
		return a.content, nil
	}
	if a.usesPostgres() {
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		a.content = pg.NewContentRepo(pool)
		return a.content, nil
	}
	s, err := checkpoint.NewContentStore(filepath.Join(a.cfg.Store.Dir, "content"))
	if err != nil {
		return nil, err
	}
	a.content = s
	return s, nil
}

func (a *app) batchService() (adapter.BatchService, error) {
	if a.batchSvc != nil {
		return a.batchSvc, nil
	}
	svc, err := ai.NewOpenAIBatchService(a.cfg.Batch, a.log)
	if err != nil {
		return nil, fmt.Errorf("batch service: %w", err)
	}
	a.batchSvc = svc
	return svc, nil
}

// initRedis connects once when a Redis URL is configured.
func (a *app) initRedis(ctx context.Context) error {
	if a.redisReady || a.cfg.Redis.URL == "" {
		return nil
	}
	c, err := red.NewClient(ctx, &a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.onClose(c.Close)
	a.locker = red.NewLocker(c)
	a.redisPing = c.Ping
	if a.cfg.Worker.Limiter == "redis" {
		l, err := red.NewWindowLimiter(c, "item-api", a.cfg.Worker.WindowCap, a.cfg.Worker.WindowSize)
		if err != nil {
			return err
		}
		a.limiter = l
	}
	a.redisReady = true
	return nil
}

func (a *app) rateLimiter(ctx context.Context) (adapter.RateLimiter, error) {
	if err := a.initRedis(ctx); err != nil {
		return nil, err
	}
	if a.limiter != nil {
		return a.limiter, nil
	}
	l, err := ratelimit.NewSlidingWindow(a.cfg.Worker.WindowCap, a.cfg.Worker.WindowSize)
	if err != nil {
		return nil, err
	}
	a.limiter = l
	return l, nil
}

// claimLocker is nil without Redis; the processing status then guards the job.
func (a *app) claimLocker(ctx context.Context) (adapter.Locker, error) {
	if err := a.initRedis(ctx); err != nil {
		return nil, err
	}
	return a.locker, nil
}

func (a *app) itemAPI(ctx context.Context) (adapter.ItemAPI, error) {
	switch a.cfg.ItemAPI.Driver {
	case "gemini":
		content, err := a.contentRepo(ctx)
		if err != nil {
			return nil, err
		}
		g, err := ai.NewGeminiGenerator(ctx, a.cfg.Gemini, content)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		c, err := itemapi.NewHTTPClient(a.cfg.ItemAPI, a.log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (a *app) notifier() (adapter.Notifier, error) {
	return telegram.New(a.cfg.Notify, a.log)
}

func (a *app) artifactStore(ctx context.Context) (adapter.ArtifactStore, error) {
	store, closer, err := storage.New(ctx, a.cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.onClose(closer.Close)
	return store, nil
}

func (a *app) progressUC(ctx context.Context) (usecase.ProgressUseCase, error) {
	jobs, err := a.jobs(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewProgressUseCase(jobs, a.log), nil
}

func (a *app) submitUC(ctx context.Context) (usecase.SubmitUseCase, error) {
	svc, err := a.batchService()
	if err != nil {
		return nil, err
	}
	mirror, err := a.batchMirror(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewSubmitUseCase(svc, mirror, usecase.SubmitterConfig{
		MaxConcurrent:     a.cfg.Batch.MaxConcurrent,
		Endpoint:          a.cfg.Batch.Endpoint,
		UploadBaseTimeout: a.cfg.Batch.UploadBaseTimeout,
		UploadPerMB:       a.cfg.Batch.UploadPerMB,
	}, a.log), nil
}

func (a *app) reconcileUC(ctx context.Context) (usecase.ReconcileUseCase, error) {
	svc, err := a.batchService()
	if err != nil {
		return nil, err
	}
	mirror, err := a.batchMirror(ctx)
	if err != nil {
		return nil, err
	}
	content, err := a.contentRepo(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewReconcileUseCase(svc, mirror, content, nil, a.cfg.Reconcile.Fanout, a.log), nil
}

// workerUC wraps the item API with a concurrency cap of maxConcurrent when positive.
func (a *app) workerUC(ctx context.Context, maxConcurrent int) (usecase.WorkerUseCase, error) {
	progress, err := a.progressUC(ctx)
	if err != nil {
		return nil, err
	}
	api, err := a.itemAPI(ctx)
	if err != nil {
		return nil, err
	}
	limiter, err := a.rateLimiter(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.claimLocker(ctx)
	if err != nil {
		return nil, err
	}
	w := a.cfg.Worker
	return usecase.NewWorkerUseCase(
		progress,
		itemapi.NewJSONLSource(),
		ai.NewLimitedItemAPI(api, maxConcurrent),
		limiter,
		locker,
		usecase.WorkerConfig{
			BatchSize: w.BatchSize,
			Retry:     usecase.RetryPolicy{MaxAttempts: w.MaxAttempts, Base: w.BackoffBase, Max: w.BackoffMax},
			LockTTL:   w.LockTTL,
		},
		a.log,
	), nil
}
