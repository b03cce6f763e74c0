package pipeline

import (
	"context"
	"fmt"
	"strings"

	"checkdoc-go/internal/config"
	"checkdoc-go/internal/model"
	"checkdoc-go/internal/repository"
	"checkdoc-go/pkg/embedding"
	"checkdoc-go/pkg/es"
	"checkdoc-go/pkg/log"
	"checkdoc-go/pkg/storage"
	"checkdoc-go/pkg/tasks"
	"checkdoc-go/pkg/tika"
)

// Processor runs the indexing flow for one document: fetch the stored
// bytes, extract text, chunk, embed and upsert into the vector index.
type Processor struct {
	docRepo   repository.DocumentRepository
	tika      *tika.Client
	chunker   *Chunker
	embedder  embedding.Client
	index     *es.Index
	bucket    string
	modelName string
}

// NewProcessor creates a new Processor instance.
func NewProcessor(docRepo repository.DocumentRepository, tikaClient *tika.Client, chunker *Chunker, embedder embedding.Client, index *es.Index) *Processor {
	return &Processor{
		docRepo:   docRepo,
		tika:      tikaClient,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		bucket:    config.Conf.MinIO.BucketName,
		modelName: config.Conf.Embedding.Model,
	}
}

// ProcessIndexTask indexes one document end to end. On failure the
// document is marked failed and the error is returned so the consumer can
// decide whether to retry the task.
func (p *Processor) ProcessIndexTask(ctx context.Context, task tasks.DocumentIndexTask) error {
	log.Infof("[Processor] indexing document %s (%s)", task.DocumentID, task.FileName)

	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", task.DocumentID, err)
	}

	if err := p.docRepo.UpdateStatus(doc.ID, model.DocumentStatusIndexing); err != nil {
		return fmt.Errorf("failed to mark document %s indexing: %w", doc.ID, err)
	}

	if err := p.runIndexFlow(ctx, doc); err != nil {
		if updErr := p.docRepo.UpdateStatus(doc.ID, model.DocumentStatusFailed); updErr != nil {
			log.Errorf("[Processor] failed to mark document %s failed: %v", doc.ID, updErr)
		}
		return err
	}
	return nil
}

func (p *Processor) runIndexFlow(ctx context.Context, doc *model.Document) error {
	data, err := storage.GetDocumentBytes(ctx, p.bucket, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch document %s from storage: %w", doc.ID, err)
	}

	pages, err := p.tika.ExtractPages(data)
	if err != nil {
		return fmt.Errorf("text extraction failed for document %s: %w", doc.ID, err)
	}
	text := strings.Join(pages, "\n\n")
	log.Infof("[Processor] extracted %d pages (%d chars) from document %s", len(pages), len(text), doc.ID)

	pieces := p.chunker.Split(text)
	if len(pieces) == 0 {
		// An empty document indexes to zero chunks; queries over it
		// legitimately return nothing.
		if err := p.index.UpsertDocument(ctx, doc.ID, nil); err != nil {
			return err
		}
		if err := p.docRepo.ReplaceChunks(doc.ID, nil); err != nil {
			return fmt.Errorf("failed to clear chunk rows for document %s: %w", doc.ID, err)
		}
		return p.docRepo.MarkIndexed(doc.ID, 0)
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}
	vectors, err := p.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding failed for document %s: %w", doc.ID, err)
	}
	if len(vectors) != len(pieces) {
		return fmt.Errorf("embedding count mismatch for document %s: %d vectors for %d chunks", doc.ID, len(vectors), len(pieces))
	}

	esChunks := make([]model.EsChunk, len(pieces))
	dbChunks := make([]*model.Chunk, len(pieces))
	for i, piece := range pieces {
		esChunks[i] = model.EsChunk{
			VectorID:     fmt.Sprintf("%s_%d", doc.ID, piece.Seq),
			DocumentID:   doc.ID,
			Seq:          piece.Seq,
			TextContent:  piece.Text,
			StartOffset:  piece.Start,
			EndOffset:    piece.End,
			Vector:       vectors[i],
			ModelVersion: p.modelName,
		}
		dbChunks[i] = &model.Chunk{
			DocumentID:  doc.ID,
			Seq:         piece.Seq,
			TextContent: piece.Text,
			StartOffset: piece.Start,
			EndOffset:   piece.End,
		}
	}

	if err := p.index.UpsertDocument(ctx, doc.ID, esChunks); err != nil {
		return fmt.Errorf("vector index upsert failed for document %s: %w", doc.ID, err)
	}
	if err := p.docRepo.ReplaceChunks(doc.ID, dbChunks); err != nil {
		return fmt.Errorf("failed to store chunk rows for document %s: %w", doc.ID, err)
	}
	if err := p.docRepo.MarkIndexed(doc.ID, len(pieces)); err != nil {
		return fmt.Errorf("failed to mark document %s indexed: %w", doc.ID, err)
	}

	log.Infof("[Processor] document %s indexed with %d chunks", doc.ID, len(pieces))
	return nil
}
