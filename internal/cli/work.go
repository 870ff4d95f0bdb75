package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"content-batch-pipeline/internal/usecase"
)

func newWorkCmd(a *app) *cobra.Command {
	var (
		opts        usecase.RunOptions
		concurrency int
		notify      bool
	)
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Process one slice of a job's items under the request window",
		Long: `Work claims a job (the given one, or the oldest pending one), skips every
item already checkpointed, and calls the item API for at most --limit of the
rest. Without --limit a run attempts --batch-size items. Progress is
checkpointed after every item, so an interrupted run loses nothing already
recorded.

Exit status is 2 when any item failed and 1 on a fatal error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := a.workerUC(ctx, concurrency)
			if err != nil {
				return err
			}
			report, runErr := w.RunOnce(ctx, opts)
			if report != nil {
				if a.jsonOut {
					if err := a.printJSON(report); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(a.out, report.Summary())
				}
			}
			if runErr != nil {
				return runErr
			}
			if notify && (report.Done || report.Failed > 0) {
				n, err := a.notifier()
				if err != nil {
					return err
				}
				if err := n.Notify(ctx, report.Summary()); err != nil {
					a.log.Warn().Err(err).Msg("notify run report")
				}
			}
			if report.Failed > 0 {
				return &ExitError{Code: ExitItemsFailed}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.JobID, "job", "j", "", "job to work on (default: oldest pending)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "max items to attempt in this run (0 = --batch-size)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "items per run when --limit is unset (default from config)")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "re-enter a job that finished or errored")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max in-flight item calls (0 = one per batch slot)")
	cmd.Flags().BoolVar(&notify, "notify", false, "send the run report to the configured notifier")
	return cmd
}
