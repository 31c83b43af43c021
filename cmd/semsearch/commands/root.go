// Package commands defines all Cobra CLI commands for the semsearch binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/semsearch/internal/audit"
	"github.com/54b3r/semsearch/internal/config"
	"github.com/54b3r/semsearch/internal/logging"
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	// configPath holds the --config flag value for YAML config file override.
	var configPath string
	// envFile holds the --env-file flag value.
	var envFile string

	root := &cobra.Command{
		Use:   "semsearch",
		Short: "semsearch: semantic search over your documents",
		Long: `semsearch indexes registered sources (web pages, local files, inline text)
into dense vector embeddings and answers natural-language queries with the
most similar passages.

Configuration is layered: .env file, YAML config file
(~/.semsearch/config.yaml), then environment variables, which always win.
See 'semsearch --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first so the YAML file cannot shadow it; neither overrides
			// variables already present in the environment.
			if _, err := config.LoadDotEnv(envFile); err != nil {
				return err
			}

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), path)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.semsearch/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; missing files are ignored")

	root.AddCommand(
		NewServeCmd(),
		NewSearchCmd(),
		NewReindexCmd(),
		NewSourcesCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)

	return root
}
