// Package repository defines the data access interfaces and their GORM and
// Redis implementations.
package repository

import (
	"time"

	"checkdoc-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository persists document metadata and chunk rows.
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindAll() ([]model.Document, error)
	Delete(id string) error
	UpdateStatus(id string, status string) error
	MarkIndexed(id string, chunkCount int) error

	// ReplaceChunks swaps all chunk rows of a document in one transaction,
	// keeping the relational copy aligned with the vector index.
	ReplaceChunks(documentID string, chunks []*model.Chunk) error
	FindChunks(documentID string) ([]model.Chunk, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository instance.
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindAll() ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Order("created_at desc").Find(&docs).Error
	return docs, err
}

// Delete removes the document row together with its chunk rows.
func (r *documentRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Document{}).Error
	})
}

func (r *documentRepository) UpdateStatus(id string, status string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Update("status", status).Error
}

func (r *documentRepository) MarkIndexed(id string, chunkCount int) error {
	now := time.Now()
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      model.DocumentStatusIndexed,
		"chunk_count": chunkCount,
		"indexed_at":  &now,
	}).Error
}

func (r *documentRepository) ReplaceChunks(documentID string, chunks []*model.Chunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.Create(chunks).Error
	})
}

func (r *documentRepository) FindChunks(documentID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	err := r.db.Where("document_id = ?", documentID).Order("seq asc").Find(&chunks).Error
	return chunks, err
}
