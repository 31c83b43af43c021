package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/semsearch/internal/audit"
	"github.com/54b3r/semsearch/internal/ingestion"
	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// NewSourcesCmd constructs the `semsearch sources` command group for
// managing the source registry.
func NewSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Register, list, inspect, and remove sources",
		Long: `Register, list, inspect, and remove sources.

A source is a caller-chosen id bound to a location: an http(s):// URL, a
file:// path, or an inline data: URI. Credentials in locations are never
printed.`,
	}

	cmd.AddCommand(
		newSourcesAddCmd(),
		newSourcesListCmd(),
		newSourcesShowCmd(),
		newSourcesRemoveCmd(),
	)
	return cmd
}

func newSourcesAddCmd() *cobra.Command {
	var reindex bool

	cmd := &cobra.Command{
		Use:   "add <id> <location>",
		Short: "Register a new source",
		Example: `  semsearch sources add handbook https://intranet.example.com/handbook.html
  semsearch sources add notes file:///home/me/notes.md --reindex
  semsearch sources add hello "data:text/plain,hello%20world"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				src, err := a.registry.Register(ctx, args[0], args[1])
				audit.LogSourceChange(ctx, logging.FromContext(ctx), audit.ActionRegister,
					args[0], ingestion.Redact(args[1]), err)
				if err != nil {
					return fmt.Errorf("sources add: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", src.ID, ingestion.Redact(src.Location))
				if !reindex {
					return nil
				}
				a.warnEphemeral(cmd)
				res, err := a.pipeline.Reindex(ctx, src.ID)
				audit.LogSourceChange(ctx, logging.FromContext(ctx), audit.ActionReindex, src.ID, "", err)
				return reportResults(cmd.OutOrStdout(), []ingestion.Result{res})
			})
		},
	}

	cmd.Flags().BoolVar(&reindex, "reindex", false, "Index the source immediately after registering it")
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered sources",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sources, err := a.registry.List(ctx)
				if err != nil {
					return fmt.Errorf("sources list: %w", err)
				}
				for i := range sources {
					sources[i].Location = ingestion.Redact(sources[i].Location)
				}
				if asJSON {
					return writeJSONTo(cmd.OutOrStdout(), sources)
				}
				return printSources(cmd.OutOrStdout(), sources)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the sources as JSON")
	return cmd
}

func newSourcesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one source's indexing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				src, err := a.registry.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("sources show: %w", err)
				}
				src.Location = ingestion.Redact(src.Location)
				return writeJSONTo(cmd.OutOrStdout(), src)
			})
		},
	}
}

func newSourcesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Remove a source and all of its chunks",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				err := a.pipeline.RemoveSource(ctx, args[0])
				audit.LogSourceChange(ctx, logging.FromContext(ctx), audit.ActionRemove, args[0], "", err)
				if err != nil {
					return fmt.Errorf("sources rm: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

func printSources(w io.Writer, sources []rag.Source) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCHUNKS\tLAST INDEXED\tLOCATION")
	for _, s := range sources {
		last := "-"
		if s.LastIndexedAt != nil {
			last = s.LastIndexedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Status, s.ChunkCount, last, s.Location)
	}
	return tw.Flush()
}
