package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/semsearch/internal/rag"
)

// NewSearchCmd constructs the `semsearch search` command, which runs a
// semantic search against the index and prints the ranked passages.
func NewSearchCmd() *cobra.Command {
	var maxResults int
	var minSimilarity float32
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed sources with a natural-language query",
		Long: `Search indexed sources with a natural-language query.

All arguments are joined into one query. Results are ordered by cosine
similarity, highest first.

Examples:
  semsearch search how do I rotate credentials
  semsearch search --max-results 3 --min-similarity 0.5 "retry policy"
  semsearch search --json "backup schedule" | jq '.chunks[].sourceId'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := rag.SearchRequest{Query: strings.Join(args, " ")}
			if cmd.Flags().Changed("max-results") {
				req.MaxResults = &maxResults
			}
			if cmd.Flags().Changed("min-similarity") {
				req.MinSimilarity = &minSimilarity
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.warnEphemeral(cmd)
				resp, err := a.query.Search(ctx, req)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				if asJSON {
					return writeJSONTo(cmd.OutOrStdout(), resp)
				}
				printHits(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "Maximum number of passages (default from SEARCH_MAX_RESULTS, capped at 50)")
	cmd.Flags().Float32Var(&minSimilarity, "min-similarity", 0, "Minimum cosine similarity in [0,1] (default from SEARCH_MIN_SIMILARITY)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON response")

	return cmd
}

func printHits(w io.Writer, resp *rag.SearchResponse) {
	if resp.TotalResults == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, hit := range resp.Chunks {
		fmt.Fprintf(w, "[%d] %.4f  %s\n", i+1, hit.Score, hit.SourceID)
		for _, line := range strings.Split(strings.TrimSpace(hit.Text), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
		fmt.Fprintln(w)
	}
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
