// Package es implements the vector index on Elasticsearch.
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"checkdoc-go/internal/config"
	"checkdoc-go/internal/model"
	"checkdoc-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ConsistencyError indicates that a per-document replace or delete could
// not complete atomically. The index is left without entries for that
// document; the whole operation must be retried, never patched.
type ConsistencyError struct {
	DocumentID string
	Err        error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("index consistency error for document %s: %v", e.DocumentID, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// Index is the vector index over document chunks. Similarity is cosine,
// fixed in the mapping for the lifetime of the index. Writes for the same
// document are serialized by a per-document lock; writes for different
// documents do not block each other.
type Index struct {
	client    *elasticsearch.Client
	indexName string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndex connects to Elasticsearch and creates the chunk index with the
// given vector dimensionality if it does not exist yet.
func NewIndex(esCfg config.ElasticsearchConfig, dims int) (*Index, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		client:    client,
		indexName: esCfg.IndexName,
		locks:     make(map[string]*sync.Mutex),
	}
	if err := ix.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *Index) createIndexIfNotExists(dims int) error {
	res, err := ix.client.Indices.Exists([]string{ix.indexName})
	if err != nil {
		log.Errorf("failed to check whether index exists: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("index '%s' already exists", ix.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("unexpected status code while checking index '%s': %d", ix.indexName, res.StatusCode)
		return fmt.Errorf("unexpected status code while checking index: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"seq": { "type": "integer" },
				"text_content": { "type": "text" },
				"start_offset": { "type": "integer" },
				"end_offset": { "type": "integer" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = ix.client.Indices.Create(
		ix.indexName,
		ix.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("failed to create index '%s': %v", ix.indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("elasticsearch returned an error creating index '%s': %s", ix.indexName, res.String())
		return fmt.Errorf("elasticsearch returned an error creating index: %s", res.String())
	}

	log.Infof("index '%s' created successfully", ix.indexName)
	return nil
}

// lockFor returns the write lock for one document id.
func (ix *Index) lockFor(documentID string) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	l, ok := ix.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		ix.locks[documentID] = l
	}
	return l
}

// UpsertDocument atomically replaces all vectors of a document: existing
// entries are removed first, then the new chunks are bulk-indexed. If the
// bulk insert fails, the partial state is cleaned up again so a retry
// starts from a deleted document, never a stale+fresh mix.
func (ix *Index) UpsertDocument(ctx context.Context, documentID string, chunks []model.EsChunk) error {
	l := ix.lockFor(documentID)
	l.Lock()
	defer l.Unlock()

	if err := ix.deleteByDocumentID(ctx, documentID); err != nil {
		return &ConsistencyError{DocumentID: documentID, Err: fmt.Errorf("failed to clear old entries: %w", err)}
	}

	if len(chunks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, chunk := range chunks {
		action := fmt.Sprintf(`{"index":{"_id":"%s"}}`, chunk.VectorID)
		buf.WriteString(action)
		buf.WriteByte('\n')
		docBytes, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk %s: %w", chunk.VectorID, err)
		}
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	res, err := ix.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		ix.client.Bulk.WithContext(ctx),
		ix.client.Bulk.WithIndex(ix.indexName),
		ix.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		ix.cleanupAfterFailedBulk(documentID)
		return &ConsistencyError{DocumentID: documentID, Err: fmt.Errorf("bulk index failed: %w", err)}
	}
	defer res.Body.Close()

	if res.IsError() {
		ix.cleanupAfterFailedBulk(documentID)
		return &ConsistencyError{DocumentID: documentID, Err: fmt.Errorf("bulk index returned error: %s", res.String())}
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		ix.cleanupAfterFailedBulk(documentID)
		return &ConsistencyError{DocumentID: documentID, Err: fmt.Errorf("failed to decode bulk response: %w", err)}
	}
	if bulkResp.Errors {
		ix.cleanupAfterFailedBulk(documentID)
		return &ConsistencyError{DocumentID: documentID, Err: fmt.Errorf("bulk index rejected one or more chunks")}
	}

	log.Infof("[VectorIndex] indexed %d chunks for document %s", len(chunks), documentID)
	return nil
}

// cleanupAfterFailedBulk removes whatever a failed bulk managed to write.
func (ix *Index) cleanupAfterFailedBulk(documentID string) {
	if err := ix.deleteByDocumentID(context.Background(), documentID); err != nil {
		log.Errorf("[VectorIndex] cleanup after failed bulk also failed for document %s: %v", documentID, err)
	}
}

// DeleteDocument removes all vectors of a document. Once it returns,
// queries no longer see entries for that document.
func (ix *Index) DeleteDocument(ctx context.Context, documentID string) error {
	l := ix.lockFor(documentID)
	l.Lock()
	defer l.Unlock()

	if err := ix.deleteByDocumentID(ctx, documentID); err != nil {
		return &ConsistencyError{DocumentID: documentID, Err: err}
	}
	log.Infof("[VectorIndex] deleted all entries for document %s", documentID)
	return nil
}

func (ix *Index) deleteByDocumentID(ctx context.Context, documentID string) error {
	query := fmt.Sprintf(`{"query":{"term":{"document_id":"%s"}}}`, documentID)
	res, err := ix.client.DeleteByQuery(
		[]string{ix.indexName},
		strings.NewReader(query),
		ix.client.DeleteByQuery.WithContext(ctx),
		ix.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("delete_by_query returned error: %s", res.String())
	}
	return nil
}

// Search runs a kNN query and returns up to topK hits ranked by cosine
// similarity. documentID restricts the search to one document; empty
// means all documents. Fewer than topK eligible chunks is not an error.
func (ix *Index) Search(ctx context.Context, vector []float32, topK int, documentID string) ([]model.ScoredChunk, error) {
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if documentID != "" {
		knn["filter"] = map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		}
	}
	esQuery := map[string]interface{}{
		"knn":  knn,
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := ix.client.Search(
		ix.client.Search.WithContext(ctx),
		ix.client.Search.WithIndex(ix.indexName),
		ix.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.ScoredChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ScoredChunk{Chunk: hit.Source, Score: hit.Score})
	}
	return results, nil
}
