package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/usecase"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		req   usecase.SubmitRequest
		index int
		total int
	)
	cmd := &cobra.Command{
		Use:   "submit PART...",
		Short: "Upload part files and create one remote batch per part",
		Long: `Submit uploads each part file and creates a batch for it, tagging the batch
with the job, content type, owner scope and chunk position. Parts are taken in
argument order as 1..N of N unless --index and --total say otherwise.

Submission stops at the first failure; batches already created stay live.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if (index > 0 || total > 0) && len(args) != 1 {
				return fmt.Errorf("%w: --index and --total take a single part", domain.ErrInvalidArgument)
			}
			uc, err := a.submitUC(ctx)
			if err != nil {
				return err
			}
			results := make([]*usecase.SubmitResult, 0, len(args))
			for i, p := range args {
				st, err := os.Stat(p)
				if err != nil {
					return err
				}
				r := req
				r.Chunk = model.Chunk{Index: i + 1, TotalParts: len(args), ByteSize: st.Size(), Path: p}
				if index > 0 {
					r.Chunk.Index = index
				}
				if total > 0 {
					r.Chunk.TotalParts = total
				}
				res, err := uc.Submit(ctx, r)
				if err != nil {
					if a.jsonOut && len(results) > 0 {
						_ = a.printJSON(results)
					}
					return fmt.Errorf("submit %s: %w", p, err)
				}
				results = append(results, res)
				if !a.jsonOut {
					fmt.Fprintf(a.out, "%s\t%s\t%s\n", p, res.BatchID, res.Status)
				}
			}
			if a.jsonOut {
				return a.printJSON(results)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.JobID, "job", "", "job id recorded in batch metadata")
	cmd.Flags().StringVarP(&req.ContentType, "kind", "k", "", "content kind recorded in batch metadata")
	cmd.Flags().StringVar(&req.OwnerScope, "owner", "", "owner scope recorded in batch metadata")
	cmd.Flags().StringVar(&req.Source, "source", "", "original source file recorded in batch metadata")
	cmd.Flags().StringVar(&req.Endpoint, "endpoint", "", "request endpoint (default from config)")
	cmd.Flags().IntVar(&index, "index", 0, "1-based part index")
	cmd.Flags().IntVar(&total, "total", 0, "total parts")
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel BATCH_ID",
		Short: "Ask the batch service to stop a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			uc, err := a.submitUC(ctx)
			if err != nil {
				return err
			}
			h, err := uc.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(h)
			}
			fmt.Fprintf(a.out, "%s\t%s\n", h.BatchID, h.Status)
			return nil
		},
	}
}

func newBatchesCmd(a *app) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List remote batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			uc, err := a.submitUC(ctx)
			if err != nil {
				return err
			}
			filter := make([]model.BatchStatus, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, model.BatchStatus(strings.TrimSpace(s)))
			}
			hs, err := uc.List(ctx, filter...)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(hs)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BATCH\tSTATUS\tDONE\tFAILED\tTOTAL\tCREATED\tJOB")
			for _, h := range hs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					h.BatchID, h.Status, h.RequestCounts.Completed, h.RequestCounts.Failed, h.RequestCounts.Total,
					h.CreatedAt.Format("2006-01-02 15:04"), h.Metadata[model.MetaJobID])
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "filter by status (repeatable or comma separated)")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	var req usecase.ReconcileRequest
	cmd := &cobra.Command{
		Use:   "reconcile [BATCH_ID]",
		Short: "Store the results of finished batches",
		Long: `Reconcile downloads the output and error files of a completed batch and
stores every valid result, skipping results already stored. With --all it
sweeps every completed batch not yet reconciled plus every tracked batch still
in flight.

Exit status is 2 when any result line could not be stored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				req.BatchID = args[0]
			}
			uc, err := a.reconcileUC(ctx)
			if err != nil {
				return err
			}
			report, runErr := uc.Reconcile(ctx, req)
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
			if report.Failed > 0 {
				return &ExitError{Code: ExitItemsFailed}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&req.All, "all", false, "reconcile every outstanding batch")
	return cmd
}
