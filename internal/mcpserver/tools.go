package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/54b3r/semsearch/internal/audit"
	"github.com/54b3r/semsearch/internal/rag"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query         string   `json:"query" jsonschema:"the natural-language search query"`
	MaxResults    *int     `json:"maxResults,omitempty" jsonschema:"maximum number of results (default 10, at most 50)"`
	MinSimilarity *float32 `json:"minSimilarity,omitempty" jsonschema:"minimum cosine similarity between 0 and 1 (default 0.7)"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Chunks       []rag.SearchHit `json:"chunks"`
	TotalResults int             `json:"totalResults"`
}

// ReindexInput is the input schema for the trigger_reindex tool.
type ReindexInput struct {
	SourceID string `json:"sourceId" jsonschema:"the id of the registered source to reindex"`
}

// ReindexOutput is the output schema for the trigger_reindex tool.
type ReindexOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over every indexed source. Returns the most similar text chunks with their source id and cosine score.",
	}, s.handleSearch)

	if s.reindexer != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "trigger_reindex",
			Description: "Re-fetch, re-chunk, and re-embed one registered source, replacing its chunks. Requires admin privilege.",
		}, s.handleReindex)
	}
}

// handleSearch handles the search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	resp, err := s.search.Search(ctx, rag.SearchRequest{
		Query:         input.Query,
		MaxResults:    input.MaxResults,
		MinSimilarity: input.MinSimilarity,
	})
	if err != nil {
		return nil, SearchOutput{}, toolError(err)
	}
	return nil, SearchOutput{Chunks: resp.Chunks, TotalResults: resp.TotalResults}, nil
}

// handleReindex handles the trigger_reindex tool invocation.
func (s *Server) handleReindex(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ReindexInput,
) (*mcp.CallToolResult, ReindexOutput, error) {
	if !s.opts.AllowReindex {
		s.log.Warn("mcp: trigger_reindex denied", slog.String("source_id", input.SourceID))
		return nil, ReindexOutput{}, toolError(fmt.Errorf("%w: trigger_reindex requires admin privilege", rag.ErrPermissionDenied))
	}
	res, err := s.reindexer.TriggerReindex(ctx, input.SourceID)
	audit.LogSourceChange(ctx, s.log, audit.ActionReindex, input.SourceID, "", res.Outcome(err))
	if err != nil {
		return nil, ReindexOutput{}, toolError(err)
	}
	return nil, ReindexOutput{Success: res.Success, Message: res.Message}, nil
}

// toolError prefixes err with its external code. Internal errors are opaque.
func toolError(err error) error {
	code := rag.CodeOf(err)
	if code == rag.CodeInternal {
		return fmt.Errorf("%s: internal error", code)
	}
	return fmt.Errorf("%s: %w", code, err)
}
