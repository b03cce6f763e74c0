// Package service implements the business operations behind the HTTP
// handlers and queue consumers.
package service

import (
	"context"
	"errors"
	"fmt"

	"checkdoc-go/internal/config"
	"checkdoc-go/internal/model"
	"checkdoc-go/internal/repository"
	"checkdoc-go/pkg/es"
	"checkdoc-go/pkg/log"
	"checkdoc-go/pkg/storage"
	"checkdoc-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IndexTaskPublisher hands indexing tasks to the queue.
type IndexTaskPublisher interface {
	PublishIndexTask(ctx context.Context, task tasks.DocumentIndexTask) error
}

// DocumentService manages uploaded documents and their index lifecycle.
type DocumentService interface {
	Upload(ctx context.Context, fileName string, data []byte) (*model.Document, error)
	Get(id string) (*model.Document, error)
	List() ([]model.Document, error)
	Delete(ctx context.Context, id string) error
	// Reindex re-enqueues an already stored document, e.g. after chunking
	// parameters changed.
	Reindex(ctx context.Context, id string) error
}

type documentService struct {
	docRepo   repository.DocumentRepository
	index     *es.Index
	publisher IndexTaskPublisher
	bucket    string
}

// NewDocumentService creates a new DocumentService instance.
func NewDocumentService(docRepo repository.DocumentRepository, index *es.Index, publisher IndexTaskPublisher) DocumentService {
	return &documentService{
		docRepo:   docRepo,
		index:     index,
		publisher: publisher,
		bucket:    config.Conf.MinIO.BucketName,
	}
}

// Upload stores the raw bytes, records the document and enqueues the
// indexing task. The document is visible immediately with status
// "uploaded"; queries against it only succeed once indexing finished.
func (s *documentService) Upload(ctx context.Context, fileName string, data []byte) (*model.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("uploaded file is empty")
	}

	doc := &model.Document{
		ID:        uuid.New().String(),
		FileName:  fileName,
		TotalSize: int64(len(data)),
		Status:    model.DocumentStatusUploaded,
	}

	if err := storage.PutDocumentBytes(ctx, s.bucket, doc.ID, data); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := s.docRepo.Create(doc); err != nil {
		if rmErr := storage.RemoveDocument(ctx, s.bucket, doc.ID); rmErr != nil {
			log.Errorf("[DocumentService] failed to clean up stored bytes for %s: %v", doc.ID, rmErr)
		}
		return nil, fmt.Errorf("failed to record document: %w", err)
	}

	task := tasks.DocumentIndexTask{DocumentID: doc.ID, FileName: fileName}
	if err := s.publisher.PublishIndexTask(ctx, task); err != nil {
		log.Errorf("[DocumentService] failed to enqueue index task for %s: %v", doc.ID, err)
		return nil, fmt.Errorf("failed to enqueue indexing: %w", err)
	}

	log.Infof("[DocumentService] document %s uploaded (%s, %d bytes)", doc.ID, fileName, len(data))
	return doc, nil
}

func (s *documentService) Get(id string) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

func (s *documentService) List() ([]model.Document, error) {
	return s.docRepo.FindAll()
}

// Delete removes the document everywhere: vector index first, then the
// stored bytes, then the rows. Once it returns, retrieval no longer sees
// the document.
func (s *documentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}

	if err := s.index.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to remove document from index: %w", err)
	}
	if err := storage.RemoveDocument(ctx, s.bucket, id); err != nil {
		return fmt.Errorf("failed to remove stored bytes: %w", err)
	}
	if err := s.docRepo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete document rows: %w", err)
	}

	log.Infof("[DocumentService] document %s deleted", id)
	return nil
}

func (s *documentService) Reindex(ctx context.Context, id string) error {
	doc, err := s.Get(id)
	if err != nil {
		return err
	}

	task := tasks.DocumentIndexTask{DocumentID: doc.ID, FileName: doc.FileName}
	if err := s.publisher.PublishIndexTask(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue reindexing: %w", err)
	}

	log.Infof("[DocumentService] document %s queued for reindexing", id)
	return nil
}
