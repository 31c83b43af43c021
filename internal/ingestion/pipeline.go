// Package ingestion implements the indexing pipeline. A reindex run fetches a
// registered source's content, chunks it, embeds every chunk, replaces the
// source's chunk set in the index store, and records the outcome on the
// source registry.
//
// The pipeline is the only writer of chunks. Runs for the same source are
// serialised by the registry's INDEXING guard; runs for different sources are
// independent.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/semsearch/internal/budget"
	"github.com/54b3r/semsearch/internal/chunker"
	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/retry"
)

// statusWriteTimeout bounds the terminal registry write, which runs on a
// context detached from the caller's cancellation.
const statusWriteTimeout = 10 * time.Second

// Config holds the configuration for the indexing pipeline.
type Config struct {
	// Chunking controls piece length and overlap.
	Chunking chunker.Config

	// BatchSize is the number of chunk texts sent per embedding call.
	// Defaults to 32 if zero.
	BatchSize int

	// BatchTokens caps the estimated tokens per embedding call. Zero
	// disables the cap.
	BatchTokens int

	// Concurrency is the number of embedding batches in flight per run.
	// Defaults to 4 if zero.
	Concurrency int

	// Timeout is the budget for one run. Defaults to 5m if zero.
	Timeout time.Duration

	// StoreRetry is the retry policy for the index store write.
	StoreRetry retry.Config
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Registry rag.SourceRegistry
	Store    rag.IndexStore
	Embedder rag.Embedder
	// Fetcher defaults to a LocationFetcher with default settings.
	Fetcher Fetcher
	// Clock defaults to rag.SystemClock.
	Clock rag.Clock
	// Metrics is optional.
	Metrics *Metrics
}

// Pipeline orchestrates the fetch, chunk, embed, and upsert flow for one
// source at a time.
type Pipeline struct {
	registry rag.SourceRegistry
	store    rag.IndexStore
	embedder rag.Embedder
	fetcher  Fetcher
	clock    rag.Clock
	metrics  *Metrics
	cfg      Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(deps Deps, cfg *Config) (*Pipeline, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("ingestion: registry must not be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if deps.Fetcher == nil {
		deps.Fetcher = NewLocationFetcher(FetcherConfig{})
	}
	if deps.Clock == nil {
		deps.Clock = rag.SystemClock
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}

	return &Pipeline{
		registry: deps.Registry,
		store:    deps.Store,
		embedder: deps.Embedder,
		fetcher:  deps.Fetcher,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		cfg:      c,
	}, nil
}

// Result describes the outcome of one reindex run.
type Result struct {
	// SourceID is the source the run targeted.
	SourceID string `json:"sourceId"`
	// RunID identifies the run in logs.
	RunID string `json:"runId"`
	// Status is the terminal status written, or empty if the run never
	// started (unknown source, already indexing).
	Status rag.Status `json:"status,omitempty"`
	// ChunkCount is the number of chunks written by a successful run.
	ChunkCount int `json:"chunkCount"`
	// Message is a human-readable summary.
	Message string `json:"message"`
	// Duration is the wall-clock time of the run.
	Duration time.Duration `json:"-"`
	// Err is the error Reindex returned with this result, nil on success.
	Err error `json:"-"`
}

// Reindex runs the full pipeline for sourceID. Every failure after the
// source moves to INDEXING is recorded on the registry as FAILED before
// Reindex returns; the returned error, also kept in Result.Err, carries the
// same cause for callers that need its code.
func (p *Pipeline) Reindex(ctx context.Context, sourceID string) (Result, error) {
	res, err := p.reindex(ctx, sourceID)
	res.Err = err
	return res, err
}

func (p *Pipeline) reindex(ctx context.Context, sourceID string) (Result, error) {
	res := Result{SourceID: sourceID, RunID: uuid.NewString()}
	if strings.TrimSpace(sourceID) == "" {
		res.Message = "source id is required"
		return res, fmt.Errorf("ingestion: %w: source id is required", rag.ErrInvalidArgument)
	}

	ctx = logging.With(ctx,
		slog.String("source_id", sourceID),
		slog.String("run_id", res.RunID),
	)
	log := logging.FromContext(ctx)

	src, err := p.registry.Get(ctx, sourceID)
	if err != nil {
		p.countOutcome(err)
		res.Message = describe(sourceID, err)
		return res, fmt.Errorf("ingestion: %w", err)
	}
	if _, err := p.registry.BeginIndexing(ctx, sourceID); err != nil {
		p.countOutcome(err)
		res.Message = describe(sourceID, err)
		return res, fmt.Errorf("ingestion: %w", err)
	}

	started := time.Now()
	log.Info("reindex started", slog.String("location", Redact(src.Location)))

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	n, runErr := p.run(runCtx, src)
	res.Duration = time.Since(started)

	// The terminal write must land even if the caller has gone away, or the
	// source would stay INDEXING forever.
	statusCtx, cancelStatus := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancelStatus()

	if runErr == nil {
		if err := p.registry.MarkReady(statusCtx, sourceID, p.clock(), n); err != nil {
			runErr = fmt.Errorf("record ready: %w", err)
		}
	}

	if runErr != nil {
		msg := failureMessage(runCtx, runErr)
		if err := p.registry.MarkFailed(statusCtx, sourceID, msg); err != nil {
			log.Error("reindex: could not record failure", slog.Any("error", err))
		}
		p.observe("failed", res.Duration, 0)
		log.Warn("reindex failed",
			slog.String("reason", msg),
			slog.Duration("duration", res.Duration),
		)
		res.Status = rag.StatusFailed
		res.Message = msg
		return res, fmt.Errorf("ingestion: source %q: %w", sourceID, runErr)
	}

	p.observe("ready", res.Duration, n)
	log.Info("reindex complete",
		slog.Int("chunks", n),
		slog.Duration("duration", res.Duration),
	)
	res.Status = rag.StatusReady
	res.ChunkCount = n
	res.Message = fmt.Sprintf("indexed %d chunks from source %q", n, sourceID)
	return res, nil
}

// run performs the fetch, chunk, embed, and upsert steps and returns the number
// of chunks written. Nothing is written to the store unless every chunk
// embedded successfully.
func (p *Pipeline) run(ctx context.Context, src *rag.Source) (int, error) {
	log := logging.FromContext(ctx)

	content, err := p.fetcher.Fetch(ctx, src.Location)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	pieces := chunker.Chunk(content, p.cfg.Chunking)
	log.Debug("reindex: chunked",
		slog.Int("bytes", len(content)),
		slog.Int("chunks", len(pieces)),
	)

	texts := make([]string, len(pieces))
	for i, pc := range pieces {
		texts[i] = pc.Text
	}
	vectors, err := p.embedAll(ctx, texts)
	if err != nil {
		return 0, err
	}

	createdAt := p.clock()
	chunks := make([]rag.Chunk, len(pieces))
	for i, pc := range pieces {
		chunks[i] = rag.Chunk{
			ID:            uuid.NewString(),
			SourceID:      src.ID,
			SequenceIndex: pc.SequenceIndex,
			Text:          pc.Text,
			Embedding:     vectors[i],
			CreatedAt:     createdAt,
		}
	}

	err = retry.Do(ctx, p.cfg.StoreRetry, "upsert", func(ctx context.Context) error {
		return p.store.UpsertChunks(ctx, src.ID, chunks)
	})
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	return len(chunks), nil
}

// embedAll embeds texts in batches with bounded parallelism. The first
// failing batch cancels the rest.
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var (
		mu       sync.Mutex
		firstErr error
	)
	for _, r := range budget.Batches(texts, p.cfg.BatchSize, p.cfg.BatchTokens) {
		lo, hi := r.Lo, r.Hi
		g.Go(func() error {
			vecs, err := p.embedder.Embed(gctx, texts[lo:hi])
			if err == nil && len(vecs) != hi-lo {
				err = fmt.Errorf("expected %d embeddings, got %d", hi-lo, len(vecs))
			}
			if err != nil {
				err = fmt.Errorf("embed chunks %d-%d: %w", lo, hi-1, err)
				mu.Lock()
				// Keep the root cause, not a sibling batch's cancellation.
				if firstErr == nil || (isCancellation(firstErr) && !isCancellation(err)) {
					firstErr = err
				}
				mu.Unlock()
				return err
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		mu.Lock()
		defer mu.Unlock()
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, err
	}
	return out, nil
}

// TriggerResult is the admin-facing outcome of a reindex trigger.
type TriggerResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Err is the run's failure when Success is false. Not serialised.
	Err error `json:"-"`
}

// Outcome returns the error a trigger call should be audited with: err
// when the call itself failed, otherwise the run's failure.
func (r TriggerResult) Outcome(err error) error {
	if err != nil {
		return err
	}
	return r.Err
}

// TriggerReindex is the administrative entry point. Only a blank id is an
// error; every other failure, including an unknown id, is reported as
// Success=false with a human-readable message.
func (p *Pipeline) TriggerReindex(ctx context.Context, sourceID string) (TriggerResult, error) {
	if strings.TrimSpace(sourceID) == "" {
		return TriggerResult{}, fmt.Errorf("ingestion: %w: sourceId is required", rag.ErrInvalidArgument)
	}
	res, err := p.Reindex(ctx, sourceID)
	if err != nil {
		return TriggerResult{Success: false, Message: res.Message, Err: err}, nil
	}
	return TriggerResult{Success: true, Message: res.Message}, nil
}

// ReindexAll reindexes every registered source with at most concurrency runs
// in flight. Results are ordered by source id; per-source failures are in
// the results, not the returned error.
func (p *Pipeline) ReindexAll(ctx context.Context, concurrency int) ([]Result, error) {
	sources, err := p.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion: list sources: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 2
	}

	results := make([]Result, len(sources))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, s := range sources {
		g.Go(func() error {
			res, _ := p.Reindex(ctx, s.ID)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(results, func(a, b Result) int { return strings.Compare(a.SourceID, b.SourceID) })
	return results, nil
}

// RemoveSource deletes a source's chunks and then the source itself.
// The source is claimed through BeginIndexing first, so no reindex can
// write chunks between the two deletes. A source being indexed cannot be
// removed; if the chunk delete fails the source is left FAILED.
func (p *Pipeline) RemoveSource(ctx context.Context, sourceID string) error {
	if _, err := p.registry.BeginIndexing(ctx, sourceID); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}

	// Release the claim even if the caller has gone away.
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	err := retry.Do(ctx, p.cfg.StoreRetry, "delete", func(ctx context.Context) error {
		return p.store.DeleteSource(ctx, sourceID)
	})
	if err != nil {
		if markErr := p.registry.MarkFailed(statusCtx, sourceID, "remove failed: could not delete chunks"); markErr != nil {
			logging.FromContext(ctx).Error("remove: could not release source", slog.Any("error", markErr))
		}
		return fmt.Errorf("ingestion: delete chunks of %q: %w", sourceID, err)
	}
	if err := p.registry.Delete(statusCtx, sourceID); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	logging.FromContext(ctx).Info("source removed", slog.String("source_id", sourceID))
	return nil
}

// RecoverStale marks sources left INDEXING by a previous process as FAILED.
// Call once at startup before serving.
func (p *Pipeline) RecoverStale(ctx context.Context) (int, error) {
	n, err := p.registry.ResetStale(ctx, "canceled: indexing interrupted by process restart")
	if err != nil {
		return 0, fmt.Errorf("ingestion: recover stale: %w", err)
	}
	if n > 0 {
		logging.FromContext(ctx).Warn("reset sources stuck in INDEXING", slog.Int("count", n))
	}
	return n, nil
}

func (p *Pipeline) observe(outcome string, d time.Duration, chunks int) {
	if p.metrics == nil {
		return
	}
	p.metrics.runsTotal.WithLabelValues(outcome).Inc()
	p.metrics.durationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
	if chunks > 0 {
		p.metrics.chunksTotal.Add(float64(chunks))
	}
}

// countOutcome records runs rejected before they started.
func (p *Pipeline) countOutcome(err error) {
	if p.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, rag.ErrNotFound):
		p.metrics.runsTotal.WithLabelValues("not_found").Inc()
	case errors.Is(err, rag.ErrAlreadyIndexing):
		p.metrics.runsTotal.WithLabelValues("conflict").Inc()
	default:
		p.metrics.runsTotal.WithLabelValues("error").Inc()
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// failureMessage is the summary recorded on a FAILED source.
func failureMessage(runCtx context.Context, err error) string {
	if runCtx.Err() != nil || isCancellation(err) {
		return "canceled: " + err.Error()
	}
	return err.Error()
}

// describe turns a pre-run rejection into the admin-facing message.
func describe(sourceID string, err error) string {
	switch {
	case errors.Is(err, rag.ErrNotFound):
		return fmt.Sprintf("source %q not found", sourceID)
	case errors.Is(err, rag.ErrAlreadyIndexing):
		return fmt.Sprintf("source %q is already being indexed", sourceID)
	default:
		return fmt.Sprintf("could not start reindex of source %q: internal error", sourceID)
	}
}
