// Package mcpserver exposes search and reindexing as Model Context Protocol
// tools so AI assistants can query the index over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/54b3r/semsearch/internal/ingestion"
	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/version"
)

// ErrMissingSearch is returned when no search engine is supplied.
var ErrMissingSearch = errors.New("mcpserver: search engine is required")

// searcher runs a semantic search. *rag.QueryEngine satisfies it.
type searcher interface {
	Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error)
}

// reindexer runs a reindex. *ingestion.Pipeline satisfies it.
type reindexer interface {
	TriggerReindex(ctx context.Context, sourceID string) (ingestion.TriggerResult, error)
}

// Options configures the MCP server.
type Options struct {
	// AllowReindex grants the trigger_reindex tool admin privilege. When
	// false the tool is listed but every call is denied.
	AllowReindex bool
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server is the MCP server.
type Server struct {
	search    searcher
	reindexer reindexer
	opts      Options
	log       *slog.Logger
	server    *mcp.Server
}

// New creates the MCP server and registers its tools. reindexer may be nil,
// in which case trigger_reindex is not registered.
func New(search searcher, reindexer reindexer, opts Options) (*Server, error) {
	if search == nil {
		return nil, ErrMissingSearch
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		search:    search,
		reindexer: reindexer,
		opts:      opts,
		log:       log,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "semsearch",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	ctx = logging.WithLogger(ctx, s.log)
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

// MCP returns the underlying SDK server, for custom transports.
func (s *Server) MCP() *mcp.Server { return s.server }
