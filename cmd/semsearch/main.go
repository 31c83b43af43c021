// Command semsearch is the entry point for the semantic search service.
// It provides a CLI (via Cobra) for managing and querying sources, an HTTP
// API server, and an MCP stdio server for AI assistants.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/semsearch/cmd/semsearch/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
