// Package retrieval turns a checklist item's text into the evidence
// passages the language model is shown.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"checkdoc-go/internal/config"
	"checkdoc-go/internal/model"
	"checkdoc-go/pkg/log"
)

// Embedder produces the query vector for a piece of text.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers kNN queries over the chunk index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, documentID string) ([]model.ScoredChunk, error)
}

// Retriever fetches the most similar chunks of one document for a query,
// drops near-duplicate passages and returns at most topK results ranked
// by descending similarity. An empty result is a valid outcome, not an
// error.
type Retriever struct {
	embedder     Embedder
	searcher     Searcher
	topK         int
	dedupOverlap float64
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(embedder Embedder, searcher Searcher, cfg config.RetrievalConfig) *Retriever {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	dedup := cfg.DedupOverlap
	if dedup <= 0 || dedup > 1 {
		dedup = 0.5
	}
	return &Retriever{
		embedder:     embedder,
		searcher:     searcher,
		topK:         topK,
		dedupOverlap: dedup,
	}
}

// Retrieve returns the evidence chunks for a query, scoped to one
// document.
func (r *Retriever) Retrieve(ctx context.Context, query string, documentID string) ([]model.ScoredChunk, error) {
	vector, err := r.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Over-fetch so deduplication does not leave the caller short.
	hits, err := r.searcher.Search(ctx, vector, r.topK*2, documentID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		log.Infof("[Retriever] no chunks found for document %s", documentID)
		return nil, nil
	}

	results := r.dedup(hits)
	if len(results) > r.topK {
		results = results[:r.topK]
	}
	return results, nil
}

// dedup removes chunks whose text range largely overlaps a higher-scored
// chunk of the same document. Two chunks are duplicates when the overlap
// covers more than the configured share of the shorter range.
func (r *Retriever) dedup(hits []model.ScoredChunk) []model.ScoredChunk {
	sorted := make([]model.ScoredChunk, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	var kept []model.ScoredChunk
	for _, hit := range sorted {
		duplicate := false
		for _, k := range kept {
			if k.Chunk.DocumentID == hit.Chunk.DocumentID && r.overlaps(k.Chunk, hit.Chunk) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, hit)
		}
	}
	return kept
}

func (r *Retriever) overlaps(a, b model.EsChunk) bool {
	lo := a.StartOffset
	if b.StartOffset > lo {
		lo = b.StartOffset
	}
	hi := a.EndOffset
	if b.EndOffset < hi {
		hi = b.EndOffset
	}
	if hi <= lo {
		return false
	}

	shorter := a.EndOffset - a.StartOffset
	if l := b.EndOffset - b.StartOffset; l < shorter {
		shorter = l
	}
	if shorter <= 0 {
		return false
	}
	return float64(hi-lo)/float64(shorter) > r.dedupOverlap
}
