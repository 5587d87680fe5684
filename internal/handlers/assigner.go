package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"calentian-mail-pipeline/internal/models"
)

func (h *Handlers) requireWorker(c *gin.Context) bool {
	if h.worker != nil {
		return true
	}
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "assigner_disabled",
		Message: "Assignment worker is not running in this process",
		Code:    http.StatusNotFound,
	})
	return false
}

// StartAssigner schedules assignment passes
func (h *Handlers) StartAssigner(c *gin.Context) {
	if !h.requireWorker(c) {
		return
	}
	if err := h.worker.Start(); err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "assigner_error",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Assignment worker started successfully",
		"status":  "running",
	})
}

// StopAssigner stops scheduled passes
func (h *Handlers) StopAssigner(c *gin.Context) {
	if !h.requireWorker(c) {
		return
	}
	if err := h.worker.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "assigner_error",
			Message: "Failed to stop assignment worker",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Assignment worker stopped successfully",
		"status":  "stopped",
	})
}

// RunAssignerOnce runs one pass synchronously
func (h *Handlers) RunAssignerOnce(c *gin.Context) {
	if !h.requireWorker(c) {
		return
	}
	result, err := h.worker.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "assigner_error",
			Message: "Failed to run assignment pass",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Assignment pass completed successfully",
		"result":  result,
	})
}

// GetAssignerStatus returns the worker schedule and last pass summary
func (h *Handlers) GetAssignerStatus(c *gin.Context) {
	if !h.requireWorker(c) {
		return
	}
	status := "stopped"
	if h.worker.IsRunning() {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"next_run":    h.worker.GetNextRun(),
		"last_run":    h.worker.GetLastRun(),
		"last_result": h.worker.LastResult(),
	})
}
