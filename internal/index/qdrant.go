package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/54b3r/semsearch/internal/rag"
)

// Payload keys written on every Qdrant point.
const (
	payloadSourceID      = "source_id"
	payloadSequenceIndex = "sequence_index"
	payloadText          = "text"
	payloadCreatedAt     = "created_at"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements rag.IndexStore backed by a Qdrant instance.
//
// Replacement is delete-by-filter followed by upsert, both with wait=true.
// Between the two calls a search may briefly see no chunks for the source;
// it never sees two generations.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// and its source_id payload index exist.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantStore{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist
// and verifies the vector size of one that does.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return classifyQdrant(fmt.Errorf("qdrant: failed to check collection existence: %w", err))
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
		if err != nil {
			return classifyQdrant(fmt.Errorf("qdrant: failed to read collection %q: %w", s.cfg.Collection, err))
		}
		return checkVectorSize(s.cfg.Collection, info, s.cfg.VectorSize)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classifyQdrant(fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err))
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      payloadSourceID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return classifyQdrant(fmt.Errorf("qdrant: failed to index %s: %w", payloadSourceID, err))
	}
	return nil
}

// checkVectorSize rejects an existing collection whose unnamed vector size
// differs from want. Collections with only named vectors are rejected too.
func checkVectorSize(collection string, info *qdrant.CollectionInfo, want uint64) error {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return fmt.Errorf("qdrant: collection %q has no default vector: %w", collection, rag.ErrDimensionMismatch)
	}
	if got := params.GetSize(); got != want {
		return fmt.Errorf("qdrant: collection %q: %w: got %d, want %d", collection, rag.ErrDimensionMismatch, got, want)
	}
	return nil
}

// sourceFilter matches every point belonging to sourceID.
func sourceFilter(sourceID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadSourceID, sourceID)},
	}
}

// UpsertChunks replaces every point of sourceID with chunks.
// Chunk IDs must be UUIDs.
func (s *QdrantStore) UpsertChunks(ctx context.Context, sourceID string, chunks []rag.Chunk) error {
	if err := validateChunks(sourceID, chunks, int(s.cfg.VectorSize)); err != nil { //nolint:gosec // vector sizes fit in int
		return err
	}
	if err := s.DeleteSource(ctx, sourceID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadSourceID:      c.SourceID,
				payloadSequenceIndex: int64(c.SequenceIndex),
				payloadText:          c.Text,
				payloadCreatedAt:     c.CreatedAt.UnixNano(),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return classifyQdrant(fmt.Errorf("qdrant: upsert %s failed: %w", sourceID, err))
	}
	return nil
}

// DeleteSource removes every point whose source_id payload equals sourceID.
func (s *QdrantStore) DeleteSource(ctx context.Context, sourceID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(sourceFilter(sourceID)),
	})
	if err != nil {
		return classifyQdrant(fmt.Errorf("qdrant: delete %s failed: %w", sourceID, err))
	}
	return nil
}

// SimilaritySearch asks Qdrant for candidates above the score threshold and
// applies the deterministic tie-break locally. The server is asked for twice
// topK so ties at the cut-off are resolved among a wider set.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, query []float32, topK int, minSimilarity float32) ([]rag.ScoredChunk, error) {
	if err := validateQuery(query, topK, minSimilarity, int(s.cfg.VectorSize)); err != nil { //nolint:gosec // vector sizes fit in int
		return nil, err
	}
	if topK == 0 {
		return []rag.ScoredChunk{}, nil
	}

	limit := uint64(2 * topK) //nolint:gosec // topK validated non-negative
	threshold := minSimilarity
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classifyQdrant(fmt.Errorf("qdrant: search failed: %w", err))
	}

	scored := make([]rag.ScoredChunk, 0, len(results))
	for _, r := range results {
		c := rag.Chunk{ID: r.GetId().GetUuid()}
		if p := r.GetPayload(); p != nil {
			c.SourceID = p[payloadSourceID].GetStringValue()
			c.SequenceIndex = int(p[payloadSequenceIndex].GetIntegerValue())
			c.Text = p[payloadText].GetStringValue()
			c.CreatedAt = time.Unix(0, p[payloadCreatedAt].GetIntegerValue()).UTC()
		}
		scored = append(scored, rag.ScoredChunk{Chunk: c, Score: r.GetScore()})
	}

	return rag.TopK(scored, topK, minSimilarity), nil
}

// CountChunks returns the exact number of points stored for sourceID.
func (s *QdrantStore) CountChunks(ctx context.Context, sourceID string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         sourceFilter(sourceID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, classifyQdrant(fmt.Errorf("qdrant: count %s failed: %w", sourceID, err))
	}
	return int(n), nil //nolint:gosec // point counts fit in int
}

// Client returns the underlying gRPC client, for readiness probing.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// classifyQdrant marks gRPC availability failures as rag.ErrStoreUnavailable.
func classifyQdrant(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %w", rag.ErrStoreUnavailable, err)
	}
	return err
}
