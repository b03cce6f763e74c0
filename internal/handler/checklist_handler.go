package handler

import (
	"errors"
	"net/http"
	"strconv"

	"checkdoc-go/internal/model"
	"checkdoc-go/internal/service"
	"checkdoc-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChecklistHandler serves the checklist CRUD endpoints.
type ChecklistHandler struct {
	checklistService service.ChecklistService
}

// NewChecklistHandler creates a new ChecklistHandler instance.
func NewChecklistHandler(checklistService service.ChecklistService) *ChecklistHandler {
	return &ChecklistHandler{checklistService: checklistService}
}

// ChecklistItemRequest is one item of a checklist create/update payload.
type ChecklistItemRequest struct {
	Kind       model.ItemKind `json:"kind" binding:"required"`
	Text       string         `json:"text" binding:"required"`
	AnswerHint string         `json:"answerHint"`
	Context    string         `json:"context"`
	Required   *bool          `json:"required"`
	Position   int            `json:"position"`
}

// CreateChecklistRequest is the create payload.
type CreateChecklistRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	Items       []ChecklistItemRequest `json:"items"`
}

// Create creates a checklist together with its items.
func (h *ChecklistHandler) Create(c *gin.Context) {
	var req CreateChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	checklist := &model.Checklist{
		Name:        req.Name,
		Description: req.Description,
		Items:       make([]model.ChecklistItem, len(req.Items)),
	}
	for i, item := range req.Items {
		required := true
		if item.Required != nil {
			required = *item.Required
		}
		position := item.Position
		if position == 0 {
			position = i
		}
		checklist.Items[i] = model.ChecklistItem{
			Kind:       item.Kind,
			Text:       item.Text,
			AnswerHint: item.AnswerHint,
			Context:    item.Context,
			Required:   required,
			Position:   position,
		}
	}

	if err := h.checklistService.Create(checklist); err != nil {
		log.Errorf("[ChecklistHandler] create failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": 201, "data": checklist, "message": "success"})
}

// Get returns one checklist with its items in declared order.
func (h *ChecklistHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	checklist, err := h.checklistService.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "checklist not found"})
			return
		}
		log.Errorf("[ChecklistHandler] get failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load checklist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": checklist, "message": "success"})
}

// List returns all checklists, newest first.
func (h *ChecklistHandler) List(c *gin.Context) {
	checklists, err := h.checklistService.List()
	if err != nil {
		log.Errorf("[ChecklistHandler] list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list checklists"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": checklists, "message": "success"})
}

// UpdateChecklistRequest is the update payload.
type UpdateChecklistRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Update renames a checklist.
func (h *ChecklistHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	checklist, err := h.checklistService.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "checklist not found"})
			return
		}
		log.Errorf("[ChecklistHandler] update failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load checklist"})
		return
	}
	checklist.Name = req.Name
	checklist.Description = req.Description
	checklist.Items = nil

	if err := h.checklistService.Update(checklist); err != nil {
		log.Errorf("[ChecklistHandler] update failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update checklist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": checklist, "message": "success"})
}

// Delete removes a checklist and its items.
func (h *ChecklistHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.checklistService.Delete(id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "checklist not found"})
			return
		}
		log.Errorf("[ChecklistHandler] delete failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete checklist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}

// AddItem appends one item to an existing checklist.
func (h *ChecklistHandler) AddItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ChecklistItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	required := true
	if req.Required != nil {
		required = *req.Required
	}
	item := &model.ChecklistItem{
		ChecklistID: id,
		Kind:        req.Kind,
		Text:        req.Text,
		AnswerHint:  req.AnswerHint,
		Context:     req.Context,
		Required:    required,
		Position:    req.Position,
	}

	if err := h.checklistService.AddItem(item); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "checklist not found"})
			return
		}
		log.Errorf("[ChecklistHandler] add item failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": 201, "data": item, "message": "success"})
}

// DeleteItem removes one item.
func (h *ChecklistHandler) DeleteItem(c *gin.Context) {
	itemID, err := strconv.ParseUint(c.Param("itemId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	if err := h.checklistService.DeleteItem(uint(itemID)); err != nil {
		log.Errorf("[ChecklistHandler] delete item failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete item"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checklist id"})
		return 0, false
	}
	return uint(id), true
}
