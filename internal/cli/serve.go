package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	statushttp "content-batch-pipeline/internal/infra/http"
	"content-batch-pipeline/internal/infra/sched"
	"content-batch-pipeline/internal/infra/worker"
	"content-batch-pipeline/internal/usecase"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var noWork, noReconcile bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status server with the work and reconcile loops",
		Long: `Serve exposes /health, /metrics, /jobs and /batches and, unless disabled,
works pending jobs and reconciles finished batches on the configured intervals.
It stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sc := a.cfg.Server

			progress, err := a.progressUC(ctx)
			if err != nil {
				return err
			}
			mirror, err := a.batchMirror(ctx)
			if err != nil {
				return err
			}
			notifier, err := a.notifier()
			if err != nil {
				return err
			}
			if err := a.initRedis(ctx); err != nil {
				return err
			}

			checks := map[string]statushttp.HealthCheck{}
			if a.pool != nil {
				checks["postgres"] = a.pool.Ping
			}
			if a.redisPing != nil {
				checks["redis"] = a.redisPing
			}
			var (
				w  usecase.WorkerUseCase
				uc usecase.ReconcileUseCase
			)
			if !noWork {
				if w, err = a.workerUC(ctx, 0); err != nil {
					return err
				}
			}
			if !noReconcile {
				if uc, err = a.reconcileUC(ctx); err != nil {
					return err
				}
			}
			srv := statushttp.NewServer(sc.Addr, progress, mirror, checks, a.log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				return srv.Shutdown(sctx)
			})

			if a.pool != nil {
				pool := a.pool
				g.Go(func() error {
					sched.StartPoolStats(gctx, 0, func() (int32, int32, int32) {
						st := pool.Stat()
						return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
					})
					return nil
				})
			}

			if w != nil {
				pool := worker.NewPool(sc.ParallelJobs, sc.ParallelJobs, a.log)
				pool.Start(gctx)
				defer pool.Stop()
				ticker := sched.NewWorkTicker(w, progress, pool, notifier, sc.WorkInterval, sc.ParallelJobs, a.log)
				g.Go(func() error { ticker.Start(gctx); return nil })
			}
			if uc != nil {
				ticker := sched.NewReconcileTicker(uc, notifier, sc.ReconcileInterval, a.log)
				g.Go(func() error { ticker.Start(gctx); return nil })
			}

			a.log.Info().Bool("work", !noWork).Bool("reconcile", !noReconcile).Msg("serving")
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&noWork, "no-work", false, "do not run the work loop")
	cmd.Flags().BoolVar(&noReconcile, "no-reconcile", false, "do not run the reconcile loop")
	return cmd
}
