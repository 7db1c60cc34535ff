package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"ffprogress/config"
	"ffprogress/ffmpeg"
	"ffprogress/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
	}
}

type TaskRequest struct {
	InputMedia string `json:"inputMedia" form:"inputMedia" binding:"required"`
	OutputArgs string `json:"outputArgs" form:"outputArgs"`
	OutputExt  string `json:"outputExt" form:"outputExt" binding:"required"`
}

// handleCreateTask handles asynchronous task creation.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Sanitize and validate the output options before accepting the task
	splitArgs, err := ffmpeg.SplitCommand(req.OutputArgs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid output options syntax: %v", err)})
		return
	}

	if err := ffmpeg.ValidateArgs(splitArgs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid output options: %v", err)})
		return
	}

	if _, err := ffmpeg.ParseParameters(splitArgs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid output options: %v", err)})
		return
	}

	t, err := h.taskManager.Submit(req.InputMedia, req.OutputArgs, req.OutputExt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID})
}

// handleListTasks lists all tasks.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks := h.taskManager.List()
	c.JSON(http.StatusOK, tasks)
}

// buildDownloadURL constructs the full URL for a completed task's file.
func (h *Handler) buildDownloadURL(c *gin.Context, t *task.Task) {
	outputPath := t.OutputPath()
	if t.Status() != task.StatusCompleted || outputPath == "" {
		return
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	filename := filepath.Base(outputPath)
	t.SetDownloadURL(fmt.Sprintf("%s/api/v1/files/%s", baseURL, filename))
}

// handleGetTaskStatus retrieves the status of a single task, including
// its live progress snapshot while it is processing.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	t, found := h.taskManager.Get(taskID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	h.buildDownloadURL(c, t)
	c.JSON(http.StatusOK, t)
}

// handleCancelTask cancels a task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	err := h.taskManager.Cancel(taskID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
}

// handleGetFile serves a completed output file.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	filePath, err := h.taskManager.GetFilePath(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(filePath)
}
