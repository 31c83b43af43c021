package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/semsearch/internal/version"
)

// NewVersionCmd constructs the `semsearch version` subcommand, which prints
// the build information injected via -ldflags ("dev"/"unknown" for local
// builds).
func NewVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the semsearch version, git commit, and build date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				return writeJSONTo(cmd.OutOrStdout(), map[string]string{
					"version":   version.Version,
					"commit":    version.Commit,
					"buildDate": version.BuildDate,
				})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the build information as JSON")
	return cmd
}
