package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/semsearch/internal/store"
)

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to check.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// SQLitePinger checks the shared SQLite handle that backs the registry.
type SQLitePinger struct {
	db *store.DB
}

// NewSQLitePinger constructs a SQLitePinger.
func NewSQLitePinger(db *store.DB) *SQLitePinger {
	return &SQLitePinger{db: db}
}

// Name returns the dependency label used in readiness responses.
func (p *SQLitePinger) Name() string { return "sqlite" }

// Ping runs a trivial query against the database.
func (p *SQLitePinger) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// healthChecker is implemented by embedders with a zero-cost health endpoint,
// such as *embedder.OllamaEmbedder. Hosted APIs are not checked because every
// check would be a billed embedding call.
type healthChecker interface {
	Ping(ctx context.Context) error
}

// EmbedderPinger checks the embedding backend.
type EmbedderPinger struct {
	health healthChecker
	name   string
}

// NewEmbedderPinger constructs an EmbedderPinger labelled name (e.g. "ollama").
func NewEmbedderPinger(health healthChecker, name string) *EmbedderPinger {
	return &EmbedderPinger{health: health, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping checks that the embedding backend answers.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if err := p.health.Ping(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}
