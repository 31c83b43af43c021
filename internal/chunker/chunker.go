// Package chunker splits document text into bounded, optionally overlapping
// pieces suitable for independent embedding and retrieval.
//
// Length is measured in visible (non-whitespace) runes, so re-wrapping or
// re-indenting a document does not move chunk boundaries. A piece is also
// capped at RawFactor times that many runes in total, so long whitespace
// runs cannot inflate it. Breaks are placed,
// in order of preference, at paragraph boundaries, sentence ends, word
// boundaries, and finally as hard cuts.
package chunker

import (
	"strings"
	"unicode"
)

const (
	// DefaultMaxLength is the maximum visible runes per piece when unset.
	DefaultMaxLength = 1000
	// DefaultOverlap is the overlap fraction used when Config.Overlap is negative.
	DefaultOverlap = 0.1
	// MaxOverlap bounds the overlap fraction so every step makes progress.
	MaxOverlap = 0.5
	// RawFactor bounds a piece's total runes, whitespace included, to
	// RawFactor * MaxLength.
	RawFactor = 2
)

// Config holds the chunking parameters.
type Config struct {
	// MaxLength is the maximum number of visible runes per piece.
	// Defaults to DefaultMaxLength if zero or negative.
	MaxLength int

	// Overlap is the fraction of MaxLength repeated at the start of the next
	// piece. Zero disables overlap; negative selects DefaultOverlap; values
	// above MaxOverlap are clamped.
	Overlap float64
}

func (c Config) normalised() Config {
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	if c.Overlap < 0 {
		c.Overlap = DefaultOverlap
	}
	if c.Overlap > MaxOverlap {
		c.Overlap = MaxOverlap
	}
	return c
}

// Piece is one chunk of the input text.
type Piece struct {
	// Text is the chunk content, trimmed of surrounding whitespace.
	Text string
	// SequenceIndex is the zero-based position in document order.
	SequenceIndex int
	// Start and End are byte offsets of Text within the original input.
	Start, End int
}

// Length returns the number of visible runes in s, the unit MaxLength is
// expressed in.
func Length(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Chunk splits text into pieces of at most cfg.MaxLength visible runes and
// RawFactor*cfg.MaxLength runes overall. An empty or whitespace-only text
// yields nil.
func Chunk(text string, cfg Config) []Piece {
	cfg = cfg.normalised()

	s := newScanner(text)
	if s.visible(0, s.n) == 0 {
		return nil
	}

	maxLen := cfg.MaxLength
	maxRaw := RawFactor * maxLen
	overlap := int(float64(maxLen) * cfg.Overlap)
	minFill := max(1, maxLen/4)

	var pieces []Piece
	start := s.skipSpace(0)
	for start < s.n {
		if end := s.trimRight(start, s.n); s.visible(start, s.n) <= maxLen && end-start <= maxRaw {
			pieces = append(pieces, s.piece(start, end, len(pieces)))
			break
		}

		// Anything past hard is whitespace up to limit, so trimming a cut
		// in (hard, limit] lands back within both bounds.
		hard := min(s.advanceVisible(start, maxLen), start+maxRaw)
		limit := s.skipSpace(hard)
		cut := s.findBreak(start, limit, minFill)
		if cut <= start {
			cut = hard
		}

		end := s.trimRight(start, cut)
		pieces = append(pieces, s.piece(start, end, len(pieces)))

		next := cut
		if overlap > 0 {
			if j := s.overlapStart(start, end, overlap); j > start {
				next = j
			}
		}
		start = s.skipSpace(next)
	}

	return pieces
}

// scanner indexes the input by rune with a prefix count of visible runes.
type scanner struct {
	text  string
	runes []rune
	// off[i] is the byte offset of runes[i]; off[n] == len(text).
	off []int
	// vis[i] is the number of visible runes in runes[:i].
	vis []int
	n   int
}

func newScanner(text string) *scanner {
	s := &scanner{text: text}
	for i, r := range text {
		s.runes = append(s.runes, r)
		s.off = append(s.off, i)
	}
	s.n = len(s.runes)
	s.off = append(s.off, len(text))

	s.vis = make([]int, s.n+1)
	for i, r := range s.runes {
		s.vis[i+1] = s.vis[i]
		if !unicode.IsSpace(r) {
			s.vis[i+1]++
		}
	}
	return s
}

func (s *scanner) visible(from, to int) int { return s.vis[to] - s.vis[from] }

func (s *scanner) space(i int) bool { return unicode.IsSpace(s.runes[i]) }

func (s *scanner) skipSpace(i int) int {
	for i < s.n && s.space(i) {
		i++
	}
	return i
}

func (s *scanner) trimRight(from, to int) int {
	for to > from && s.space(to-1) {
		to--
	}
	return to
}

// advanceVisible returns the index just past the count-th visible rune
// at or after from.
func (s *scanner) advanceVisible(from, count int) int {
	i := from
	for seen := 0; i < s.n && seen < count; i++ {
		if !s.space(i) {
			seen++
		}
	}
	return i
}

func (s *scanner) piece(from, to, seq int) Piece {
	return Piece{
		Text:          s.text[s.off[from]:s.off[to]],
		SequenceIndex: seq,
		Start:         s.off[from],
		End:           s.off[to],
	}
}

// findBreak returns the preferred exclusive end in (start, limit].
// Paragraph and sentence breaks must leave at least minFill visible runes
// in the piece; word breaks only need to make progress. It returns start
// when no break exists.
func (s *scanner) findBreak(start, limit, minFill int) int {
	for b := limit; b > start; b-- {
		if s.visible(start, b) >= minFill && s.isParagraphBreak(b) {
			return b
		}
	}
	for b := limit; b > start; b-- {
		if s.visible(start, b) >= minFill && s.isSentenceEnd(b) {
			return b
		}
	}
	for b := limit; b > start; b-- {
		if b < s.n && s.space(b) && !s.space(b-1) {
			return b
		}
	}
	return start
}

// isParagraphBreak reports whether a blank line starts at b.
func (s *scanner) isParagraphBreak(b int) bool {
	if b >= s.n || s.runes[b] != '\n' {
		return false
	}
	for i := b + 1; i < s.n; i++ {
		switch s.runes[i] {
		case '\n':
			return true
		case ' ', '\t', '\r':
			continue
		default:
			return false
		}
	}
	return false
}

// isSentenceEnd reports whether b immediately follows terminal punctuation
// (optionally followed by closing quotes or brackets) and precedes whitespace.
func (s *scanner) isSentenceEnd(b int) bool {
	if b < s.n && !s.space(b) {
		return false
	}
	i := b - 1
	for i >= 0 && strings.ContainsRune(`"')]”’`, s.runes[i]) {
		i--
	}
	return i >= 0 && strings.ContainsRune(".!?。", s.runes[i])
}

// overlapStart returns where the next piece should begin so that roughly
// overlap visible runes of [start, end) are repeated, snapped forward to a
// word start.
func (s *scanner) overlapStart(start, end, overlap int) int {
	j := end
	for j > start && s.visible(j, end) < overlap {
		j--
	}
	for j < end && j > 0 && !s.space(j) && !s.space(j-1) {
		j++
	}
	return j
}
