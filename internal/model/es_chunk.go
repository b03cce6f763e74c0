package model

// EsChunk is the document structure stored in the Elasticsearch index.
// VectorID is documentID_seq and doubles as the ES document ID, so
// re-indexing overwrites rather than accumulates.
type EsChunk struct {
	VectorID     string    `json:"vector_id"`
	DocumentID   string    `json:"document_id"`
	Seq          int       `json:"seq"`
	TextContent  string    `json:"text_content"`
	StartOffset  int       `json:"start_offset"`
	EndOffset    int       `json:"end_offset"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// ScoredChunk is one retrieval hit: a stored chunk plus its similarity
// score.
type ScoredChunk struct {
	Chunk EsChunk
	Score float64
}
