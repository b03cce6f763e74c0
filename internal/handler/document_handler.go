// Package handler contains the HTTP controllers.
package handler

import (
	"errors"
	"io"
	"net/http"

	"checkdoc-go/internal/service"
	"checkdoc-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler serves the document upload and lifecycle endpoints.
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler creates a new DocumentHandler instance.
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Upload accepts a multipart PDF upload and queues it for indexing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'file' form field"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Upload: failed to open uploaded file", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Error("Upload: failed to read uploaded file", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}

	doc, err := h.documentService.Upload(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		log.Errorf("[DocumentHandler] upload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"code": 201, "data": doc, "message": "success"})
}

// Get returns one document with its indexing status.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documentService.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		log.Errorf("[DocumentHandler] get failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": doc, "message": "success"})
}

// List returns all documents, newest first.
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documentService.List()
	if err != nil {
		log.Errorf("[DocumentHandler] list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": docs, "message": "success"})
}

// Delete removes a document from storage, index and database.
func (h *DocumentHandler) Delete(c *gin.Context) {
	err := h.documentService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		log.Errorf("[DocumentHandler] delete failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}

// Reindex queues a stored document for reindexing.
func (h *DocumentHandler) Reindex(c *gin.Context) {
	err := h.documentService.Reindex(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		log.Errorf("[DocumentHandler] reindex failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue reindexing"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 202, "message": "success"})
}
