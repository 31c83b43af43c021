package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the typed values the commands wire components from. Backend
// packages (embedder, index, retry) read their own variables; Settings
// covers everything else.
type Settings struct {
	// DBPath is the SQLite database file. Empty selects the default path.
	DBPath string

	// ChunkMaxLength and ChunkOverlap configure the chunker. A negative
	// overlap selects the chunker default.
	ChunkMaxLength int
	ChunkOverlap   float64

	// SearchMaxResults and SearchMinSimilarity are query defaults.
	SearchMaxResults    int
	SearchMinSimilarity float32
	// SearchCacheSize bounds the query-embedding LRU cache.
	SearchCacheSize int

	// ReindexTimeout bounds each reindex run.
	ReindexTimeout time.Duration
	// ReindexBatchSize is the number of chunks per embedding call.
	ReindexBatchSize int
	// ReindexBatchTokens caps the estimated tokens per embedding call; 0 is no cap.
	ReindexBatchTokens int
	// ReindexConcurrency is the number of embedding calls in flight.
	ReindexConcurrency int

	// Host, Port, APIKey, AdminKey, RateLimit and RateBurst configure the
	// HTTP server.
	Host      string
	Port      int
	APIKey    string
	AdminKey  string
	RateLimit float64
	RateBurst int

	// WatchEnabled starts the file watcher alongside the HTTP server.
	WatchEnabled bool
	// WatchDebounce is the watcher quiet period.
	WatchDebounce time.Duration

	// MCPAllowReindex exposes trigger_reindex to MCP clients.
	MCPAllowReindex bool
}

// FromEnv resolves Settings from the environment. Call it after LoadDotEnv
// and Load so file values are visible. Malformed values are reported rather
// than silently replaced by defaults.
func FromEnv() (Settings, error) {
	p := &parser{}
	s := Settings{
		DBPath:              os.Getenv("SEMSEARCH_DB"),
		ChunkMaxLength:      p.int("CHUNK_MAX_LENGTH", 1000),
		ChunkOverlap:        p.float("CHUNK_OVERLAP", -1),
		SearchMaxResults:    p.int("SEARCH_MAX_RESULTS", 10),
		SearchMinSimilarity: float32(p.float("SEARCH_MIN_SIMILARITY", 0.7)),
		SearchCacheSize:     p.int("SEARCH_CACHE_SIZE", 1024),
		ReindexTimeout:      p.duration("REINDEX_TIMEOUT", 5*time.Minute),
		ReindexBatchSize:    p.int("REINDEX_BATCH_SIZE", 32),
		ReindexBatchTokens:  p.int("REINDEX_BATCH_TOKENS", 0),
		ReindexConcurrency:  p.int("REINDEX_CONCURRENCY", 4),
		Host:                envOr("SEMSEARCH_HOST", "127.0.0.1"),
		Port:                p.int("SEMSEARCH_PORT", 8080),
		APIKey:              os.Getenv("SEMSEARCH_API_KEY"),
		AdminKey:            os.Getenv("SEMSEARCH_ADMIN_KEY"),
		RateLimit:           p.float("SEMSEARCH_RATE_LIMIT", 10),
		RateBurst:           p.int("SEMSEARCH_RATE_BURST", 20),
		WatchEnabled:        p.bool("WATCH_ENABLED", false),
		WatchDebounce:       p.duration("WATCH_DEBOUNCE", 2*time.Second),
		MCPAllowReindex:     p.bool("MCP_ALLOW_REINDEX", false),
	}
	if p.err != nil {
		return Settings{}, p.err
	}
	if s.SearchMinSimilarity < 0 || s.SearchMinSimilarity > 1 {
		return Settings{}, fmt.Errorf("config: SEARCH_MIN_SIMILARITY must be within [0, 1], got %v", s.SearchMinSimilarity)
	}
	return s, nil
}

// parser records the first malformed variable.
type parser struct {
	err error
}

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: invalid %s=%q: %w", key, val, err)
	}
}

func (p *parser) int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

func (p *parser) bool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
