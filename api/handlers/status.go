package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/pkg/logger"
)

// StatusHandler serves the per-document processing status out of the ledger.
type StatusHandler struct {
	reader ledger.Reader
	logger logger.Logger
}

func NewStatusHandler(reader ledger.Reader, log logger.Logger) *StatusHandler {
	return &StatusHandler{
		reader: reader,
		logger: log,
	}
}

// GetStatus handles GET /api/status/:id.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	docID := c.Param("id")
	if docID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "document id is required", Message: "document id is required"})
		return
	}

	record, err := h.reader.Get(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Message: "no status recorded for document"})
			return
		}
		h.logger.Error("Failed to read status", logger.String("documentId", docID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Message: "failed to read status"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// ListStatus handles GET /api/status.
func (h *StatusHandler) ListStatus(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.reader.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list statuses", logger.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Message: "failed to list statuses"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}
