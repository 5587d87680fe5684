package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"calentian-mail-pipeline/internal/models"
)

// GetPollerStatus returns the mailbox poller's current state
func (h *Handlers) GetPollerStatus(c *gin.Context) {
	if h.poller == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "poller_disabled",
			Message: "Mailbox poller is not running in this process",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, h.poller.Status())
}
