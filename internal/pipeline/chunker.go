// Package pipeline implements the document indexing flow: extracted text
// is chunked, embedded and upserted into the vector index.
package pipeline

import (
	"fmt"

	"checkdoc-go/internal/config"
)

// ChunkingError indicates invalid chunking parameters. This is a
// deployment bug, not a runtime condition.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("invalid chunking parameters: %s", e.Reason)
}

// Piece is one chunk of a document's text. Offsets are rune offsets into
// the concatenated text; consecutive pieces overlap by the configured
// overlap so no semantic boundary is lost at a chunk edge.
type Piece struct {
	Seq   int
	Text  string
	Start int
	End   int
}

// Chunker splits text into overlapping fixed-size passages. It slides a
// window of size runes, advancing by size-overlap, and prefers to cut at
// paragraph, sentence or word boundaries within the tolerance window
// before the target cut point. Splitting is deterministic: identical text
// and parameters always produce the identical chunk set.
type Chunker struct {
	size      int
	overlap   int
	tolerance int
}

// NewChunker validates the parameters and returns a Chunker.
func NewChunker(cfg config.ChunkingConfig) (*Chunker, error) {
	if cfg.Size <= 0 {
		return nil, &ChunkingError{Reason: fmt.Sprintf("size must be positive, got %d", cfg.Size)}
	}
	if cfg.Overlap < 0 {
		return nil, &ChunkingError{Reason: fmt.Sprintf("overlap must not be negative, got %d", cfg.Overlap)}
	}
	if cfg.Overlap >= cfg.Size {
		return nil, &ChunkingError{Reason: fmt.Sprintf("overlap (%d) must be smaller than size (%d)", cfg.Overlap, cfg.Size)}
	}

	tolerance := cfg.Tolerance
	if tolerance < 0 {
		tolerance = 0
	}
	// The window must always advance past the overlap region.
	if max := cfg.Size - cfg.Overlap - 1; tolerance > max {
		tolerance = max
	}

	return &Chunker{size: cfg.Size, overlap: cfg.Overlap, tolerance: tolerance}, nil
}

// Split chunks text into ordered pieces with monotonically increasing
// offsets. The last piece may be shorter than the chunk size. Joining the
// pieces after dropping each piece's leading overlap reconstructs the
// text exactly.
func (c *Chunker) Split(text string) []Piece {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var pieces []Piece
	start := 0
	for seq := 0; start < n; seq++ {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.adjustCut(runes, start, end)
		}
		pieces = append(pieces, Piece{
			Seq:   seq,
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == n {
			break
		}
		start = end - c.overlap
	}
	return pieces
}

// adjustCut moves the cut point backwards to the best boundary within the
// tolerance window. Paragraph breaks beat sentence ends beat word breaks;
// without any boundary in the window the raw cut stands.
func (c *Chunker) adjustCut(runes []rune, start, end int) int {
	lo := end - c.tolerance
	if min := start + c.overlap + 1; lo < min {
		lo = min
	}
	if lo >= end {
		return end
	}

	bestSentence := -1
	bestWord := -1
	for i := end - 1; i >= lo; i-- {
		r := runes[i]
		switch {
		case r == '\n':
			if i > 0 && runes[i-1] == '\n' {
				return i + 1
			}
			if bestSentence < 0 {
				bestSentence = i + 1
			}
		case r == '.' || r == '!' || r == '?':
			if i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n') && bestSentence < 0 {
				bestSentence = i + 1
			}
		case r == ' ':
			if bestWord < 0 {
				bestWord = i + 1
			}
		}
	}
	if bestSentence >= 0 {
		return bestSentence
	}
	if bestWord >= 0 {
		return bestWord
	}
	return end
}
