package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"calentian-mail-pipeline/internal/db"
	"calentian-mail-pipeline/internal/models"
)

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Mailbox:   "disabled",
		Metrics:   make(map[string]string),
	}

	ctx := c.Request.Context()
	if err := db.Ping(ctx, h.db); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	} else if counts, err := h.messages.CountByStatus(ctx); err != nil {
		logrus.Errorf("Failed to count messages for health check: %v", err)
	} else {
		for status, n := range counts {
			response.Metrics["messages_"+models.StatusLabel(status)] = strconv.FormatInt(n, 10)
		}
	}

	if h.poller != nil {
		status := h.poller.Status()
		response.Mailbox = "ok"
		if !status.Running {
			response.Mailbox = "stopped"
		}
		response.Metrics["poller_state"] = string(status.State)
		response.Metrics["poller_ingested"] = strconv.FormatUint(status.Ingested, 10)
		response.Metrics["poller_failed"] = strconv.FormatUint(status.Failed, 10)
	}

	if h.worker != nil {
		if h.worker.IsRunning() {
			response.Metrics["assigner"] = "running"
			response.Metrics["next_run"] = h.worker.GetNextRun().Format(time.RFC3339)
		} else {
			response.Metrics["assigner"] = "stopped"
		}
		if last := h.worker.GetLastRun(); !last.IsZero() {
			response.Metrics["last_run"] = last.Format(time.RFC3339)
		}
	}

	if h.hub != nil {
		response.Metrics["subscribers"] = strconv.Itoa(h.hub.Count())
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
