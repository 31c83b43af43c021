package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/54b3r/semsearch/internal/audit"
	"github.com/54b3r/semsearch/internal/ingestion"
	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// errReindexFailed is returned when at least one requested run did not
// finish READY. Per-source details are printed before it.
var errReindexFailed = errors.New("reindex: one or more sources failed")

// NewReindexCmd constructs the `semsearch reindex` command, which runs the
// indexing pipeline in-process for the named sources or for all of them.
func NewReindexCmd() *cobra.Command {
	var all bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "reindex [source-id...]",
		Short: "Fetch, chunk, embed, and store one or more sources",
		Long: `Fetch, chunk, embed, and store one or more registered sources.

Each run replaces the source's chunks wholesale. A source already being
indexed by another process is skipped and reported as failed.

Examples:
  semsearch reindex handbook
  semsearch reindex handbook runbooks
  semsearch reindex --all --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("reindex: %w: pass source ids or --all, not both", rag.ErrInvalidArgument)
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.warnEphemeral(cmd)

				var results []ingestion.Result
				if all {
					res, err := a.pipeline.ReindexAll(ctx, concurrency)
					if err != nil {
						return err
					}
					results = res
				} else {
					for _, id := range args {
						res, _ := a.pipeline.Reindex(ctx, id)
						results = append(results, res)
					}
				}
				for _, r := range results {
					audit.LogSourceChange(ctx, logging.FromContext(ctx), audit.ActionReindex, r.SourceID, "", r.Err)
				}
				return reportResults(cmd.OutOrStdout(), results)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Reindex every registered source")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 2, "Sources indexed in parallel with --all")

	return cmd
}

// reportResults prints one line per run and returns errReindexFailed if any
// run did not succeed.
func reportResults(w io.Writer, results []ingestion.Result) error {
	failed := 0
	for _, r := range results {
		status := r.Status
		if status == "" {
			status = "SKIPPED"
		}
		if status != rag.StatusReady {
			failed++
		}
		fmt.Fprintf(w, "%-24s %-8s %s\n", r.SourceID, status, r.Message)
	}
	if failed > 0 {
		return errReindexFailed
	}
	return nil
}
