// Package config provides layered configuration for semsearch.
// Precedence, lowest first: built-in defaults, .env file, YAML file, process
// environment. The process environment always wins: neither the .env file
// nor the YAML file overwrites a variable that is already set.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. SEMSEARCH_CONFIG environment variable
//  3. ~/.semsearch/config.yaml
//  4. ./semsearch.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding backend.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures the vector index backend.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Storage configures the SQLite database holding the source registry.
	Storage StorageConfig `yaml:"storage"`

	// Chunking configures how source text is split.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Search configures query defaults.
	Search SearchConfig `yaml:"search"`

	// Reindex configures the indexing pipeline.
	Reindex ReindexConfig `yaml:"reindex"`

	// Retry configures retries of transient embedder and store failures.
	Retry RetryConfig `yaml:"retry"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Watch configures the file watcher.
	Watch WatchConfig `yaml:"watch"`

	// MCP configures the MCP stdio server.
	MCP MCPConfig `yaml:"mcp"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	// Provider selects the backend: ollama, openai, azure, gemini, hash.
	Provider string `yaml:"provider"`
	// Model is the embedding model (or Azure deployment) name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// RateLimit caps embedding requests per second. Zero disables pacing.
	RateLimit float64 `yaml:"rate_limit"`
	// OllamaHost is the Ollama server URL.
	OllamaHost string `yaml:"ollama_host"`
	// AzureAPIVersion is the Azure OpenAI API version.
	AzureAPIVersion string `yaml:"azure_api_version"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	// Backend selects the index: sqlite, memory, qdrant, hnsw.
	Backend string `yaml:"backend"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
}

// ChunkingConfig holds chunker settings.
type ChunkingConfig struct {
	// MaxLength is the maximum visible runes per chunk.
	MaxLength int `yaml:"max_length"`
	// Overlap is the fraction of MaxLength repeated between chunks.
	Overlap float32 `yaml:"overlap"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	// MaxResults is the default result count.
	MaxResults int `yaml:"max_results"`
	// MinSimilarity is the default cosine threshold.
	MinSimilarity float32 `yaml:"min_similarity"`
	// CacheSize is the number of query embeddings kept in memory.
	CacheSize int `yaml:"cache_size"`
}

// ReindexConfig holds pipeline settings.
type ReindexConfig struct {
	// Timeout bounds one reindex run (Go duration, e.g. "5m").
	Timeout string `yaml:"timeout"`
	// BatchSize is the number of chunks per embedding request.
	BatchSize int `yaml:"batch_size"`
	// BatchTokens caps the estimated tokens per embedding request; 0 is no cap.
	BatchTokens int `yaml:"batch_tokens"`
	// Concurrency is the number of embedding batches in flight.
	Concurrency int `yaml:"concurrency"`
}

// RetryConfig holds retry settings.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts.
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelay is the first backoff interval (Go duration).
	BaseDelay string `yaml:"base_delay"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the user Bearer token. Prefer env var SEMSEARCH_API_KEY.
	APIKey string `yaml:"api_key"`
	// AdminKey is the admin Bearer token. Prefer env var SEMSEARCH_ADMIN_KEY.
	AdminKey string `yaml:"admin_key"`
	// RateLimit is the per-IP request rate.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst.
	RateBurst int `yaml:"rate_burst"`
}

// WatchConfig holds file watcher settings.
type WatchConfig struct {
	// Enabled starts the watcher with `semsearch serve`.
	Enabled bool `yaml:"enabled"`
	// Debounce is the quiet period before a reindex (Go duration).
	Debounce string `yaml:"debounce"`
}

// MCPConfig holds MCP server settings.
type MCPConfig struct {
	// AllowReindex lets MCP clients call trigger_reindex.
	AllowReindex bool `yaml:"allow_reindex"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_RATE_LIMIT", func(c *Config) string { return float64Str(c.Embedding.RateLimit) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.OllamaHost }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Embedding.AzureAPIVersion }},
	{"INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"SEMSEARCH_DB", func(c *Config) string { return c.Storage.DBPath }},
	{"CHUNK_MAX_LENGTH", func(c *Config) string { return intStr(c.Chunking.MaxLength) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return float32Str(c.Chunking.Overlap) }},
	{"SEARCH_MAX_RESULTS", func(c *Config) string { return intStr(c.Search.MaxResults) }},
	{"SEARCH_MIN_SIMILARITY", func(c *Config) string { return float32Str(c.Search.MinSimilarity) }},
	{"SEARCH_CACHE_SIZE", func(c *Config) string { return intStr(c.Search.CacheSize) }},
	{"REINDEX_TIMEOUT", func(c *Config) string { return c.Reindex.Timeout }},
	{"REINDEX_BATCH_SIZE", func(c *Config) string { return intStr(c.Reindex.BatchSize) }},
	{"REINDEX_BATCH_TOKENS", func(c *Config) string { return intStr(c.Reindex.BatchTokens) }},
	{"REINDEX_CONCURRENCY", func(c *Config) string { return intStr(c.Reindex.Concurrency) }},
	{"RETRY_MAX_ATTEMPTS", func(c *Config) string { return intStr(c.Retry.MaxAttempts) }},
	{"RETRY_BASE_DELAY", func(c *Config) string { return c.Retry.BaseDelay }},
	{"SEMSEARCH_HOST", func(c *Config) string { return c.Server.Host }},
	{"SEMSEARCH_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"SEMSEARCH_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"SEMSEARCH_ADMIN_KEY", func(c *Config) string { return c.Server.AdminKey }},
	{"SEMSEARCH_RATE_LIMIT", func(c *Config) string { return float64Str(c.Server.RateLimit) }},
	{"SEMSEARCH_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"WATCH_ENABLED", func(c *Config) string { return boolStr(c.Watch.Enabled) }},
	{"WATCH_DEBOUNCE", func(c *Config) string { return c.Watch.Debounce }},
	{"MCP_ALLOW_REINDEX", func(c *Config) string { return boolStr(c.MCP.AllowReindex) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// LoadDotEnv loads KEY=VALUE pairs from path (default ".env") into the
// process environment without overriding variables that are already set.
// A missing file is not an error. Returns true if a file was loaded.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return true, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("SEMSEARCH_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".semsearch", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("semsearch.yaml"); err == nil {
		return "semsearch.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	return float64Str(float64(v))
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
