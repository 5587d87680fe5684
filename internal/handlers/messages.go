package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"calentian-mail-pipeline/internal/models"
	"calentian-mail-pipeline/internal/repository"
)

// ListMessages returns stored messages, newest first
func (h *Handlers) ListMessages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	filter := repository.MessageFilter{Page: page, Limit: limit}

	if raw := c.Query("status"); raw != "" {
		status, err := strconv.Atoi(raw)
		if err != nil || status < models.StatusUnclassified || status > models.StatusUnmatched {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_status",
				Message: "status must be between 0 and 4",
				Code:    http.StatusBadRequest,
			})
			return
		}
		filter.Status = &status
	}

	if raw := c.Query("tenant_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_tenant",
				Message: "tenant_id must be a numeric id",
				Code:    http.StatusBadRequest,
			})
			return
		}
		tenantID := uint(id)
		filter.TenantID = &tenantID
	}

	messages, total, err := h.messages.ListMessages(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch messages",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	items := make([]models.MessageResponse, 0, len(messages))
	for _, m := range messages {
		items = append(items, models.NewMessageResponse(m, false))
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": items,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetMessage returns one message with its bodies. The HTML body is sanitized.
func (h *Handlers) GetMessage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid message ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	msg, err := h.messages.GetMessage(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: "Message not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch message",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	resp := models.NewMessageResponse(*msg, true)
	resp.HTMLBody = h.sanitizer.Sanitize(resp.HTMLBody)
	c.JSON(http.StatusOK, resp)
}
