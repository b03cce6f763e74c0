package retrieval

import (
	"context"
	"errors"
	"testing"

	"checkdoc-go/internal/config"
	"checkdoc-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

type fakeSearcher struct {
	hits       []model.ScoredChunk
	err        error
	gotTopK    int
	gotDocID   string
	gotVectors [][]float32
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, topK int, documentID string) ([]model.ScoredChunk, error) {
	f.gotTopK = topK
	f.gotDocID = documentID
	f.gotVectors = append(f.gotVectors, vector)
	return f.hits, f.err
}

func hit(docID string, seq, start, end int, score float64) model.ScoredChunk {
	return model.ScoredChunk{
		Chunk: model.EsChunk{
			DocumentID:  docID,
			Seq:         seq,
			StartOffset: start,
			EndOffset:   end,
		},
		Score: score,
	}
}

func newTestRetriever(embedder *fakeEmbedder, searcher *fakeSearcher, topK int) *Retriever {
	return NewRetriever(embedder, searcher, config.RetrievalConfig{TopK: topK, DedupOverlap: 0.5})
}

func TestRetrieveEmptyIndexIsNotAnError(t *testing.T) {
	searcher := &fakeSearcher{}
	r := newTestRetriever(&fakeEmbedder{vector: []float32{0.1}}, searcher, 5)

	results, err := r.Retrieve(context.Background(), "query", "doc-1")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, "doc-1", searcher.gotDocID)
}

func TestRetrieveEmbeddingErrorPropagates(t *testing.T) {
	r := newTestRetriever(&fakeEmbedder{err: errors.New("service down")}, &fakeSearcher{}, 5)

	_, err := r.Retrieve(context.Background(), "query", "doc-1")
	assert.Error(t, err)
}

func TestRetrieveSearchErrorPropagates(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("es unavailable")}
	r := newTestRetriever(&fakeEmbedder{vector: []float32{0.1}}, searcher, 5)

	_, err := r.Retrieve(context.Background(), "query", "doc-1")
	assert.Error(t, err)
}

func TestRetrieveReturnsFewerThanTopK(t *testing.T) {
	searcher := &fakeSearcher{hits: []model.ScoredChunk{
		hit("doc-1", 0, 0, 100, 0.9),
		hit("doc-1", 5, 500, 600, 0.7),
	}}
	r := newTestRetriever(&fakeEmbedder{vector: []float32{0.1}}, searcher, 5)

	results, err := r.Retrieve(context.Background(), "query", "doc-1")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	searcher := &fakeSearcher{hits: []model.ScoredChunk{
		hit("doc-1", 0, 0, 100, 0.9),
		hit("doc-1", 2, 200, 300, 0.8),
		hit("doc-1", 4, 400, 500, 0.7),
		hit("doc-1", 6, 600, 700, 0.6),
	}}
	r := newTestRetriever(&fakeEmbedder{vector: []float32{0.1}}, searcher, 2)

	results, err := r.Retrieve(context.Background(), "query", "doc-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, 0.8, results[1].Score)
	// Over-fetch leaves room for deduplication.
	assert.Equal(t, 4, searcher.gotTopK)
}

func TestRetrieveOrdersByDescendingScore(t *testing.T) {
	searcher := &fakeSearcher{hits: []model.ScoredChunk{
		hit("doc-1", 2, 200, 300, 0.5),
		hit("doc-1", 0, 0, 100, 0.9),
		hit("doc-1", 4, 400, 500, 0.7),
	}}
	r := newTestRetriever(&fakeEmbedder{vector: []float32{0.1}}, searcher, 5)

	results, err := r.Retrieve(context.Background(), "query", "doc-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, 0.7, results[1].Score)
	assert.Equal(t, 0.5, results[2].Score)
}

func TestRetrieveDropsNearDuplicateRanges(t *testing.T) {
	// The second hit covers 80% of the first's range; only the
	// higher-scored one survives.
	searcher := &fakeSearcher{hits: []model.ScoredChunk{
		hit("doc-1", 0, 0, 100, 0.9),
		hit("doc-1", 1, 20, 120, 0.8),
		hit("doc-1", 5, 500, 600, 0.6),
	}}
	r := newTestRetriever(&fakeEmbedder{vector: []float32{0.1}}, searcher, 5)

	results, err := r.Retrieve(context.Background(), "query", "doc-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Chunk.Seq)
	assert.Equal(t, 5, results[1].Chunk.Seq)
}

func TestRetrieveKeepsSmallOverlaps(t *testing.T) {
	// 20% overlap stays below the 50% threshold.
	searcher := &fakeSearcher{hits: []model.ScoredChunk{
		hit("doc-1", 0, 0, 100, 0.9),
		hit("doc-1", 1, 80, 180, 0.8),
	}}
	r := newTestRetriever(&fakeEmbedder{vector: []float32{0.1}}, searcher, 5)

	results, err := r.Retrieve(context.Background(), "query", "doc-1")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
