package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/semsearch/internal/ingestion"
	"github.com/54b3r/semsearch/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a synchronous reindex triggered through the admin API.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// CheckTimeout bounds each readiness check. Defaults to 5s.
	CheckTimeout time.Duration
	// RateLimit is the sustained request rate allowed per IP and route class
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the bucket size per IP and route class. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on search and source-status routes.
	// If both APIKey and AdminKey are empty, authentication is disabled
	// (development mode).
	APIKey string
	// AdminKey is the Bearer token required on /api/admin/* routes. It is also
	// accepted on user routes. If empty, APIKey holders are admins.
	AdminKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// searcher runs a semantic search. *rag.QueryEngine satisfies it.
type searcher interface {
	Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error)
}

// indexer runs reindexes and source removal. *ingestion.Pipeline satisfies it.
type indexer interface {
	TriggerReindex(ctx context.Context, sourceID string) (ingestion.TriggerResult, error)
	RemoveSource(ctx context.Context, sourceID string) error
}

// Deps are the core components the HTTP handlers delegate to.
type Deps struct {
	// Search answers POST /api/search.
	Search searcher
	// Indexer answers POST /api/admin/reindex and DELETE /api/admin/sources/{id}.
	Indexer indexer
	// Registry answers source registration, listing, and status reads.
	Registry rag.SourceRegistry
}

// Server is the HTTP front end of the search service.
type Server struct {
	// search, indexer and registry are the core components behind the handlers.
	search   searcher
	indexer  indexer
	registry rag.SourceRegistry
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this server.
	metrics *serverMetrics
}

// reindexRequest is the JSON body for POST /api/admin/reindex.
type reindexRequest struct {
	// SourceID is the source to reindex.
	SourceID string `json:"sourceId"`
}

// registerRequest is the JSON body for POST /api/admin/sources.
type registerRequest struct {
	// ID is the caller-chosen source identifier.
	ID string `json:"id"`
	// Location is the fetchable URL or path of the content.
	Location string `json:"location"`
	// Reindex runs an initial reindex right after registration.
	Reindex bool `json:"reindex,omitempty"`
}

// sourceResponse is the JSON view of a registered source. Location is
// redacted so credentials embedded in URLs never leave the server.
type sourceResponse struct {
	ID            string     `json:"id"`
	Location      string     `json:"location"`
	Status        rag.Status `json:"status"`
	LastIndexedAt *time.Time `json:"lastIndexedAt,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	ChunkCount    int        `json:"chunkCount"`
}

// registerResponse is the JSON response for POST /api/admin/sources.
type registerResponse struct {
	Source  sourceResponse           `json:"source"`
	Reindex *ingestion.TriggerResult `json:"reindex,omitempty"`
}

// listSourcesResponse is the JSON response for GET /api/admin/sources.
type listSourcesResponse struct {
	Sources []sourceResponse `json:"sources"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	// Code is the external error code (e.g. "invalid-argument").
	Code rag.Code `json:"code"`
	// Message is a human-readable description. Internal errors are opaque.
	Message string `json:"message"`
}
