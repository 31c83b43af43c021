package rag

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Cosine returns the cosine similarity of a and b: their dot product divided
// by the product of their L2 norms. A zero-norm vector, or vectors of
// different lengths, yield 0. Accumulation is done in float64.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// CompareScored orders results by score descending, then newer CreatedAt,
// then ID ascending. It is a total order so results are deterministic.
func CompareScored(a, b ScoredChunk) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if c := b.Chunk.CreatedAt.Compare(a.Chunk.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Chunk.ID, b.Chunk.ID)
}

// TopK filters candidates below minSimilarity, sorts the rest with
// CompareScored, and truncates to topK. The input slice is reused.
func TopK(candidates []ScoredChunk, topK int, minSimilarity float32) []ScoredChunk {
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Score >= minSimilarity {
			kept = append(kept, c)
		}
	}
	slices.SortFunc(kept, CompareScored)
	if topK >= 0 && len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

// CheckDimension returns ErrDimensionMismatch when len(vec) != dim.
// A dim of zero disables the check.
func CheckDimension(vec []float32, dim int) error {
	if dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
	}
	return nil
}
