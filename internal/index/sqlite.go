package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/store"
)

// SQLiteStore is a rag.IndexStore over the shared SQLite database.
// Replacement runs delete-then-insert inside one transaction, so a reader
// sees either the previous generation or the new one and never an empty
// window. Search is an exact scan.
type SQLiteStore struct {
	db   *store.DB
	dims int
}

// NewSQLiteStore returns a store over db for vectors of length dims.
// The store borrows db; closing the store does not close it.
func NewSQLiteStore(db *store.DB, dims int) *SQLiteStore {
	return &SQLiteStore{db: db, dims: dims}
}

// UpsertChunks replaces every chunk of sourceID with chunks atomically.
func (s *SQLiteStore) UpsertChunks(ctx context.Context, sourceID string, chunks []rag.Chunk) error {
	if err := validateChunks(sourceID, chunks, s.dims); err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
			return store.Classify(fmt.Errorf("index: sqlite delete %s: %w", sourceID, err))
		}
		if len(chunks) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, source_id, sequence_index, text, embedding, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return store.Classify(fmt.Errorf("index: sqlite prepare: %w", err))
		}
		defer stmt.Close()

		for i := range chunks {
			c := &chunks[i]
			if _, err := stmt.ExecContext(ctx, c.ID, c.SourceID, c.SequenceIndex, c.Text,
				encodeVector(c.Embedding), c.CreatedAt.UnixNano()); err != nil {
				return store.Classify(fmt.Errorf("index: sqlite insert chunk %s: %w", c.ID, err))
			}
		}
		return nil
	})
}

// DeleteSource removes every chunk of sourceID.
func (s *SQLiteStore) DeleteSource(ctx context.Context, sourceID string) error {
	if _, err := s.db.SQL().ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return store.Classify(fmt.Errorf("index: sqlite delete %s: %w", sourceID, err))
	}
	return nil
}

// SimilaritySearch scans every chunk, keeping those at or above minSimilarity.
func (s *SQLiteStore) SimilaritySearch(ctx context.Context, query []float32, topK int, minSimilarity float32) ([]rag.ScoredChunk, error) {
	if err := validateQuery(query, topK, minSimilarity, s.dims); err != nil {
		return nil, err
	}
	if topK == 0 {
		return []rag.ScoredChunk{}, nil
	}

	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, source_id, sequence_index, text, embedding, created_at FROM chunks`)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("index: sqlite search: %w", err))
	}
	defer rows.Close()

	var scored []rag.ScoredChunk
	for rows.Next() {
		var (
			c    rag.Chunk
			blob []byte
			ts   int64
		)
		if err := rows.Scan(&c.ID, &c.SourceID, &c.SequenceIndex, &c.Text, &blob, &ts); err != nil {
			return nil, fmt.Errorf("index: sqlite search scan: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("index: chunk %s: %w", c.ID, err)
		}
		score := rag.Cosine(query, vec)
		if score < minSimilarity {
			continue
		}
		c.Embedding = vec
		c.CreatedAt = time.Unix(0, ts).UTC()
		scored = append(scored, rag.ScoredChunk{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify(fmt.Errorf("index: sqlite search rows: %w", err))
	}

	out := rag.TopK(scored, topK, minSimilarity)
	if out == nil {
		out = []rag.ScoredChunk{}
	}
	return out, nil
}

// CountChunks returns the number of chunks stored for sourceID.
func (s *SQLiteStore) CountChunks(ctx context.Context, sourceID string) (int, error) {
	var n int
	if err := s.db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE source_id = ?`, sourceID).Scan(&n); err != nil {
		return 0, store.Classify(fmt.Errorf("index: sqlite count %s: %w", sourceID, err))
	}
	return n, nil
}

// Close is a no-op; the database belongs to whoever opened it.
func (s *SQLiteStore) Close() error { return nil }
