package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkdoc-go/internal/model"
	"checkdoc-go/internal/service"
	"checkdoc-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RunHandler serves the checklist run endpoints, including the websocket
// progress stream.
type RunHandler struct {
	runService service.RunService
}

// NewRunHandler creates a new RunHandler instance.
func NewRunHandler(runService service.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

// CreateRunRequest is the run creation payload.
type CreateRunRequest struct {
	ChecklistID uint   `json:"checklistId" binding:"required"`
	DocumentID  string `json:"documentId" binding:"required"`
	Language    string `json:"language"`
}

// Create starts a checklist run against an indexed document.
func (h *RunHandler) Create(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	run, err := h.runService.CreateRun(c.Request.Context(), req.ChecklistID, req.DocumentID, req.Language)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("[RunHandler] create failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create run"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 202, "data": run, "message": "success"})
}

// Get returns one run with its outcomes in checklist order.
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.runService.GetRun(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		log.Errorf("[RunHandler] get failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": run, "message": "success"})
}

// List returns runs, optionally filtered by checklist.
func (h *RunHandler) List(c *gin.Context) {
	var checklistID uint
	if raw := c.Query("checklistId"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checklistId"})
			return
		}
		checklistID = uint(parsed)
	}

	runs, err := h.runService.ListRuns(checklistID)
	if err != nil {
		log.Errorf("[RunHandler] list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": runs, "message": "success"})
}

// Cancel flags a pending or running run for cancellation.
func (h *RunHandler) Cancel(c *gin.Context) {
	err := h.runService.CancelRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, service.ErrRunNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": "run is already finished"})
		default:
			log.Errorf("[RunHandler] cancel failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel run"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}

// Progress upgrades to a websocket and streams progress updates until the
// run reaches a terminal state or the client disconnects.
func (h *RunHandler) Progress(c *gin.Context) {
	runID := c.Param("id")
	if _, err := h.runService.GetRun(runID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		log.Errorf("[RunHandler] progress lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[RunHandler] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		progress, err := h.runService.GetProgress(c.Request.Context(), runID)
		if err != nil {
			log.Errorf("[RunHandler] failed to read progress for run %s: %v", runID, err)
			return
		}
		if progress == nil {
			// The run has not pushed progress yet; keep polling.
			continue
		}
		if err := conn.WriteJSON(progress); err != nil {
			return
		}
		if isTerminal(progress.Status) {
			return
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case model.RunStatusCompleted, model.RunStatusCompletedWithErrors, model.RunStatusFailed, model.RunStatusCancelled:
		return true
	}
	return false
}
