package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"content-batch-pipeline/internal/domain/model"
)

func newEnqueueCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "enqueue SOURCE",
		Short: "Create a pending job over a JSONL item file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			progress, err := a.progressUC(ctx)
			if err != nil {
				return err
			}
			source, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			job, err := progress.Create(ctx, source, kind)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(jobView(job))
			}
			fmt.Fprintln(a.out, job.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", model.KindAnswer, "content kind the job produces")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "status [JOB_ID]",
		Short: "Show one job or list jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			progress, err := a.progressUC(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				job, err := progress.Load(ctx, args[0])
				if err != nil {
					return err
				}
				v := jobView(job)
				v.FailedIDs = job.FailedIDs.Sorted()
				if a.jsonOut {
					return a.printJSON(v)
				}
				return a.printJobs([]jobStatus{v}, true)
			}
			jobs, err := progress.List(ctx, model.JobStatus(status), limit)
			if err != nil {
				return err
			}
			views := make([]jobStatus, 0, len(jobs))
			for _, j := range jobs {
				views = append(views, jobView(j))
			}
			if a.jsonOut {
				return a.printJSON(views)
			}
			if len(views) == 0 {
				fmt.Fprintln(a.out, "No jobs found.")
				return nil
			}
			return a.printJobs(views, false)
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending|processing|done|error)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max jobs to list")
	return cmd
}

func newRequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue JOB_ID",
		Short: "Forget a job's failed items so the next run retries them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			progress, err := a.progressUC(ctx)
			if err != nil {
				return err
			}
			ids, err := progress.Requeue(ctx, args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"job_id": args[0], "requeued": ids})
			}
			fmt.Fprintf(a.out, "requeued %d items\n", len(ids))
			return nil
		},
	}
}

type jobStatus struct {
	ID        string          `json:"id"`
	Status    model.JobStatus `json:"status"`
	Source    string          `json:"source"`
	Kind      string          `json:"kind,omitempty"`
	Total     *int            `json:"total_items,omitempty"`
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
	Error     string          `json:"error,omitempty"`
	FailedIDs []string        `json:"failed_ids,omitempty"`
}

func jobView(j *model.Job) jobStatus {
	return jobStatus{
		ID:        j.ID,
		Status:    j.Status,
		Source:    j.Source,
		Kind:      j.Kind,
		Total:     j.TotalItems,
		Processed: j.ProcessedCount(),
		Failed:    len(j.FailedIDs),
		Error:     j.ErrorMessage,
	}
}

func (a *app) printJobs(views []jobStatus, detail bool) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tKIND\tPROGRESS\tFAILED\tSOURCE")
	for _, v := range views {
		total := "?"
		if v.Total != nil {
			total = fmt.Sprint(*v.Total)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%s\t%d\t%s\n", v.ID, v.Status, v.Kind, v.Processed, total, v.Failed, v.Source)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if detail {
		if len(views) == 1 && views[0].Error != "" {
			fmt.Fprintf(a.out, "\nerror: %s\n", views[0].Error)
		}
		for _, id := range views[0].FailedIDs {
			fmt.Fprintf(a.out, "failed: %s\n", id)
		}
	}
	return nil
}
