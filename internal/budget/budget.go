// Package budget provides token estimation and request batching for the
// embedding calls made by the indexing pipeline. Providers use different
// tokenizers, so this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and code).
package budget

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// MaxRequestTokens is the largest request the hosted embedding APIs
	// accept (OpenAI caps one embeddings call at 300k tokens). A useful
	// value for BatchTokens when embedding large sources.
	MaxRequestTokens = 300_000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Range is a half-open [Lo, Hi) span of a text slice.
type Range struct {
	Lo, Hi int
}

// Batches splits texts into consecutive ranges of at most maxItems texts
// whose estimated token total stays within maxTokens. A single text larger
// than maxTokens gets a range of its own. maxTokens <= 0 disables the token
// bound; maxItems <= 0 means one range per text.
func Batches(texts []string, maxItems, maxTokens int) []Range {
	if maxItems <= 0 {
		maxItems = 1
	}
	var out []Range
	lo, tokens := 0, 0
	for i, t := range texts {
		n := Estimate(t)
		full := i-lo >= maxItems || (maxTokens > 0 && i > lo && tokens+n > maxTokens)
		if full {
			out = append(out, Range{Lo: lo, Hi: i})
			lo, tokens = i, 0
		}
		tokens += n
	}
	if lo < len(texts) {
		out = append(out, Range{Lo: lo, Hi: len(texts)})
	}
	return out
}
