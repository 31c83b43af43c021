package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/mcpserver"
)

// NewMCPCmd constructs the `semsearch mcp` command, which serves the search
// tools to an AI assistant over the Model Context Protocol on stdio.
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve search as MCP tools over stdio",
		Long: `Serve search as Model Context Protocol tools over stdin/stdout.

Tools:
  search           semantic search over indexed sources
  trigger_reindex  reindex one source (requires MCP_ALLOW_REINDEX=true)

stdout carries the protocol; logs go to stderr.

Example client configuration:
  {"command": "semsearch", "args": ["mcp"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, nil)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer a.Close()

			if err := a.verifyEmbedder(ctx); err != nil {
				return fmt.Errorf("mcp: %w", err)
			}

			srv, err := mcpserver.New(a.query, a.pipeline, mcpserver.Options{
				AllowReindex: a.settings.MCPAllowReindex,
				Logger:       log,
			})
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			return srv.Run(ctx)
		},
	}
}
