// Package model defines the Go structs mapped to database tables and the
// data transfer objects of the service.
package model

import "time"

// Document index lifecycle states.
const (
	DocumentStatusUploaded = "uploaded"
	DocumentStatusIndexing = "indexing"
	DocumentStatusIndexed  = "indexed"
	DocumentStatusFailed   = "failed"
)

// Document is the ORM model for the documents table. The raw bytes live in
// object storage under the document ID; only metadata is kept here.
type Document struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	TotalSize  int64     `gorm:"not null" json:"totalSize"`
	Status     string    `gorm:"type:varchar(20);not null;default:'uploaded'" json:"status"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	IndexedAt  *time.Time `gorm:"default:null" json:"indexedAt"`
}

// TableName maps the model to its table.
func (Document) TableName() string {
	return "documents"
}

// Chunk is the ORM model for the document_chunks table. Chunks are written
// during indexing and fully replaced when a document is re-indexed.
type Chunk struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID  string `gorm:"type:varchar(36);not null;index" json:"documentId"`
	Seq         int    `gorm:"not null" json:"seq"`
	TextContent string `gorm:"type:text" json:"textContent"`
	StartOffset int    `gorm:"not null" json:"startOffset"`
	EndOffset   int    `gorm:"not null" json:"endOffset"`
}

// TableName maps the model to its table.
func (Chunk) TableName() string {
	return "document_chunks"
}
