// Package cli provides the genbatch command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/infra/logging"
	"content-batch-pipeline/internal/infra/metrics"
)

var (
	// Version and Commit feed --version and the build info metric.
	Version = "dev"
	Commit  = ""
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitItemsFailed = 2
)

// ExitError carries a non-default process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && a.log != nil {
		a.log.Warn().Err(cerr).Msg("release resources")
	}
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitFatal
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "genbatch",
		Short: "Chunked batch generation pipeline",
		Long: `genbatch splits large JSONL request files, submits them as remote batches,
works through per-item jobs under a sliding request window and reconciles
finished batches into stored content.

Each command runs one bounded slice of work and exits, so it can be driven
by cron or a container scheduler. "serve" runs the same loops in-process.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath, a.dev)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Log, cfg.Runtime.Dev)
			a.out = cmd.OutOrStdout()
			metrics.MustRegister()
			metrics.SetBuildInfo(Version, Commit)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "path to YAML config file")
	root.PersistentFlags().BoolVar(&a.dev, "dev", false, "developer mode (console logs, no redaction)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newSplitCmd(a),
		newEnqueueCmd(a),
		newWorkCmd(a),
		newSubmitCmd(a),
		newCancelCmd(a),
		newReconcileCmd(a),
		newBatchesCmd(a),
		newStatusCmd(a),
		newRequeueCmd(a),
		newMigrateCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
