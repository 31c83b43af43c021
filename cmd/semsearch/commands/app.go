package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/semsearch/internal/chunker"
	"github.com/54b3r/semsearch/internal/config"
	"github.com/54b3r/semsearch/internal/embedder"
	"github.com/54b3r/semsearch/internal/index"
	"github.com/54b3r/semsearch/internal/ingestion"
	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/registry"
	"github.com/54b3r/semsearch/internal/retry"
	"github.com/54b3r/semsearch/internal/server"
	"github.com/54b3r/semsearch/internal/store"
	"github.com/54b3r/semsearch/internal/tracing"
)

// app is the fully wired service shared by every command.
type app struct {
	settings config.Settings
	db       *store.DB
	registry rag.SourceRegistry
	index    rag.IndexStore
	// base is the undecorated embedding client, kept for readiness checks.
	base     rag.Embedder
	embedder rag.Embedder
	pipeline *ingestion.Pipeline
	query    *rag.QueryEngine
	// indexBackend is the resolved INDEX_BACKEND.
	indexBackend string
	// flushTraces sends buffered Langfuse traces; nil when tracing is off.
	flushTraces func()
}

// buildApp resolves settings and wires storage, embedding, indexing, and
// search. reg receives the pipeline metrics; pass nil to skip them.
func buildApp(ctx context.Context, reg prometheus.Registerer) (*app, error) {
	log := logging.FromContext(ctx)

	settings, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	dbPath := settings.DBPath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	a := &app{settings: settings, db: db}

	a.registry = registry.NewSQLiteRegistry(db, rag.SystemClock)

	a.base, err = embedder.NewBackendFromEnv(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	handlers := []callbacks.Handler{embedder.LogHandler()}
	if lf, flush, ok := tracing.Setup(tracing.ConfigFromEnv()); ok {
		handlers = append(handlers, lf)
		a.flushTraces = flush
		log.Info("langfuse tracing enabled")
	}
	backend := embedder.Backend()
	traced := embedder.NewTraced(a.base, backend, embedder.Model(backend), handlers...)

	retryCfg := retry.FromEnv()
	a.embedder = embedder.Wrap(traced, embedder.RateLimitFromEnv(), retryCfg)

	idxCfg := index.ConfigFromEnv(a.embedder.Dimensions())
	a.indexBackend = idxCfg.Backend
	a.index, err = index.New(ctx, idxCfg, db)
	if err != nil {
		a.Close()
		return nil, err
	}

	var metrics *ingestion.Metrics
	if reg != nil {
		metrics = ingestion.NewMetrics(reg)
	}
	a.pipeline, err = ingestion.NewPipeline(ingestion.Deps{
		Registry: a.registry,
		Store:    a.index,
		Embedder: a.embedder,
		Metrics:  metrics,
	}, &ingestion.Config{
		Chunking:    chunker.Config{MaxLength: settings.ChunkMaxLength, Overlap: settings.ChunkOverlap},
		BatchSize:   settings.ReindexBatchSize,
		BatchTokens: settings.ReindexBatchTokens,
		Concurrency: settings.ReindexConcurrency,
		Timeout:     settings.ReindexTimeout,
		StoreRetry:  retryCfg,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	// Repeated queries skip the embedding call.
	queryEmbedder, err := embedder.NewCached(a.embedder, settings.SearchCacheSize)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.query, err = rag.NewQueryEngine(queryEmbedder, a.index, rag.SearchParams{
		MaxResults:    settings.SearchMaxResults,
		MinSimilarity: settings.SearchMinSimilarity,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info("service wired",
		slog.String("db", db.Path()),
		slog.String("embedding_provider", backend),
		slog.String("embedding_model", embedder.Model(backend)),
		slog.Int("dimensions", a.embedder.Dimensions()),
		slog.String("index_backend", a.indexBackend),
	)
	return a, nil
}

// ephemeral reports whether the index forgets its contents on exit.
func (a *app) ephemeral() bool {
	return a.indexBackend == index.BackendMemory || a.indexBackend == index.BackendHNSW
}

// pingers returns the readiness checks for the wired dependencies.
func (a *app) pingers() []server.Pinger {
	p := []server.Pinger{server.NewSQLitePinger(a.db)}
	if o, ok := a.base.(*embedder.OllamaEmbedder); ok {
		p = append(p, server.NewEmbedderPinger(o, "ollama"))
	}
	if q, ok := a.index.(*index.QdrantStore); ok {
		p = append(p, server.NewQdrantPinger(q.Client()))
	}
	return p
}

// verifyEmbedder verifies the embedder answers with the configured dimension.
// A dimension mismatch is fatal; an unreachable backend is only logged so
// the server can start before its dependencies.
func (a *app) verifyEmbedder(ctx context.Context) error {
	err := embedder.VerifyDimension(ctx, a.embedder)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rag.ErrDimensionMismatch):
		return fmt.Errorf("embedding dimension check failed, set EMBEDDING_DIMENSIONS to the model's output size: %w", err)
	default:
		logging.FromContext(ctx).Warn("embedder dimension check failed", slog.Any("error", err))
		return nil
	}
}

// Close flushes traces and releases the index and database.
func (a *app) Close() {
	if a.flushTraces != nil {
		a.flushTraces()
	}
	if a.index != nil {
		_ = a.index.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// withApp wires the service for a one-shot command, runs fn, and releases
// the service afterwards. No metrics are registered.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := logging.WithLogger(cmd.Context(), logging.New())
	a, err := buildApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// warnEphemeral tells the operator that nothing written by this process
// outlives it.
func (a *app) warnEphemeral(cmd *cobra.Command) {
	if a.ephemeral() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: INDEX_BACKEND=%s keeps chunks in memory; they are lost when this command exits\n", a.indexBackend)
	}
}
