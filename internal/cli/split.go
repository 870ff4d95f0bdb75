package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/splitter"
)

func newSplitCmd(a *app) *cobra.Command {
	var (
		parts    int
		maxBytes int64
		outDir   string
		tokens   bool
		archive  bool
	)
	cmd := &cobra.Command{
		Use:   "split INPUT [CORRELATED...]",
		Short: "Split JSONL files into aligned parts",
		Long: `Split cuts one or more JSONL files into parts. Additional inputs are
correlated with the first: every file is cut at the same line numbers, so
part N of each file covers the same records.

Examples:
  genbatch split requests.jsonl --parts 3
  genbatch split questions.jsonl answers.jsonl --max-bytes 104857600`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sc := a.cfg.Splitter
			opts := splitter.Options{
				NumParts:     parts,
				MaxPartBytes: sc.MaxPartBytes,
				OutDir:       sc.OutDir,
			}
			if parts == 0 && sc.DefaultParts > 0 {
				opts.NumParts = sc.DefaultParts
			}
			if cmd.Flags().Changed("max-bytes") {
				opts.MaxPartBytes = maxBytes
			}
			if outDir != "" {
				opts.OutDir = outDir
			}
			if tokens {
				opts.Tokens = splitter.NewTokenCounter(sc.TokenEncoding, a.log)
			}
			if archive || sc.Archive {
				store, err := a.artifactStore(ctx)
				if err != nil {
					return err
				}
				opts.Archive = store
			}

			s, err := splitter.New(opts, a.log)
			if err != nil {
				return err
			}
			ins := make([]splitter.Input, len(args))
			for i, p := range args {
				ins[i] = splitter.FileInput(p)
			}
			sets, err := s.SplitCorrelated(ctx, ins)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(sets)
			}
			return a.printChunks(args, sets)
		},
	}
	cmd.Flags().IntVarP(&parts, "parts", "n", 0, "number of parts (default: derived from the byte ceiling)")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "per-part byte ceiling (default from config)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default from config)")
	cmd.Flags().BoolVar(&tokens, "tokens", false, "estimate tokens per part")
	cmd.Flags().BoolVar(&archive, "archive", false, "copy written parts to the artifact store")
	return cmd
}

func (a *app) printChunks(inputs []string, sets [][]model.Chunk) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INPUT\tPART\tLINES\tFIRST\tBYTES\tTOKENS\tPATH")
	for i, chunks := range sets {
		for _, c := range chunks {
			fmt.Fprintf(w, "%s\t%d/%d\t%d\t%d\t%d\t%d\t%s\n",
				inputs[i], c.Index, c.TotalParts, c.LineCount, c.FirstLine, c.ByteSize, c.Tokens, c.Path)
		}
	}
	return w.Flush()
}
