package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/retry"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
	// defaultHashDimensions is the vector size of the offline hash embedder.
	defaultHashDimensions = 256
)

// DefaultDimensions returns the default embedding vector size for the given
// backend name. Callers that need to pre-configure a vector store (e.g.
// Qdrant collection creation) should use this rather than hardcoding a value.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	case "hash":
		return defaultHashDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// Backend returns the configured embedding backend name (default: ollama).
func Backend() string {
	return getEnvOrDefault("EMBEDDING_PROVIDER", "ollama")
}

// Model returns EMBEDDING_MODEL, or the default model of backend.
func Model(backend string) string {
	def := defaultOpenAIModel
	switch backend {
	case "ollama":
		def = defaultOllamaModel
	case "gemini":
		def = defaultGeminiModel
	case "hash":
		def = "fnv"
	}
	return getEnvOrDefault("EMBEDDING_MODEL", def)
}

// NewBackendFromEnv constructs the bare provider client selected by
// EMBEDDING_PROVIDER, without decorators.
//
// Environment:
//
//	EMBEDDING_PROVIDER   ollama | openai | azure | gemini | hash (default: ollama)
//	EMBEDDING_MODEL      overrides the backend's default model
//	EMBEDDING_API_KEY    overrides the backend's API key variable
//	EMBEDDING_ENDPOINT   overrides the backend's endpoint variable
//	EMBEDDING_DIMENSIONS overrides the backend's default dimensions
func NewBackendFromEnv(ctx context.Context) (rag.Embedder, error) {
	backend := Backend()
	dims := DefaultDimensions(backend)

	switch backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       host,
			Model:      Model(backend),
			Dimensions: dims,
		}), nil

	case "openai":
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      Model(backend),
			Dimensions: dims,
		}), nil

	case "azure":
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint,
			APIKey:     apiKey,
			Model:      Model(backend),
			Dimensions: dims,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	case "gemini":
		apiKey := firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      Model(backend),
			Dimensions: dims,
		})

	case "hash":
		return NewHashEmbedder(dims), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure, gemini, hash", backend)
	}
}

// RateLimitFromEnv returns EMBEDDING_RATE_LIMIT in calls per second, or 0
// (no pacing) when unset or malformed.
func RateLimitFromEnv() float64 {
	return getEnvFloat("EMBEDDING_RATE_LIMIT", 0)
}

// Wrap applies the standard decorator chain to base. ratePerSecond <= 0
// disables pacing.
func Wrap(base rag.Embedder, ratePerSecond float64, policy retry.Config) rag.Embedder {
	var e rag.Embedder = base
	if ratePerSecond > 0 {
		e = NewRateLimited(e, ratePerSecond, int(ratePerSecond)+1)
	}
	e = NewRetrying(e, policy)
	return NewFixedDimension(e)
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
