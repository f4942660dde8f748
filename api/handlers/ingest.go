package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openoverheid/docpipe/internal/broker"
	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/pkg/logger"
	"github.com/openoverheid/docpipe/pkg/storage"
)

// IngestHandler accepts documents into the pipeline, either as an uploaded
// file (stored in the object store first) or as a URL reference.
type IngestHandler struct {
	publisher broker.Publisher
	store     storage.Storage
	logger    logger.Logger
}

// IngestRequest is the JSON variant: a remote document by URL.
type IngestRequest struct {
	URL    string `json:"url" binding:"required"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// IngestResponse reports the enqueued document.
type IngestResponse struct {
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	Queued     bool   `json:"queued"`
	CreatedAt  string `json:"createdAt"`
}

func NewIngestHandler(publisher broker.Publisher, store storage.Storage, log logger.Logger) *IngestHandler {
	return &IngestHandler{
		publisher: publisher,
		store:     store,
		logger:    log,
	}
}

// IngestDocument handles POST /api/ingest. Multipart uploads go to the
// object store and are referenced by key; JSON bodies reference a URL.
func (h *IngestHandler) IngestDocument(c *gin.Context) {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		h.ingestUpload(c)
		return
	}
	h.ingestByURL(c)
}

func (h *IngestHandler) ingestUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	docID := uuid.NewString()
	ext := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	key := fmt.Sprintf("uploads/%s/%s", docID, header.Filename)

	if _, err := h.store.Store(c.Request.Context(), file, key); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to store file", err)
		return
	}

	source := c.PostForm("source")
	if source == "" {
		source = "upload"
	}

	env := &envelope.Envelope{
		Document: &envelope.Document{
			Source:    source,
			ID:        docID,
			Name:      header.Filename,
			URL:       key,
			Extension: ext,
			Payload:   map[string]any{},
		},
	}
	h.publish(c, env)
}

func (h *IngestHandler) ingestByURL(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(req.URL)
	}
	source := req.Source
	if source == "" {
		source = "url"
	}

	env := &envelope.Envelope{
		Document: &envelope.Document{
			Source:    source,
			ID:        uuid.NewString(),
			Name:      name,
			URL:       req.URL,
			Extension: strings.TrimPrefix(filepath.Ext(name), "."),
			Payload:   map[string]any{},
		},
	}
	h.publish(c, env)
}

func (h *IngestHandler) publish(c *gin.Context, env *envelope.Envelope) {
	body, err := envelope.Encode(env)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to encode document", err)
		return
	}

	msg := broker.Message{
		Body:        body,
		Subject:     "document_submitted",
		ContentType: envelope.ContentType,
	}
	if err := h.publisher.Publish(c.Request.Context(), msg); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to enqueue document", err)
		return
	}

	h.logger.Info("Document queued for processing",
		logger.String("documentId", env.Document.ID),
		logger.String("name", env.Document.Name),
	)

	c.JSON(http.StatusAccepted, IngestResponse{
		DocumentID: env.Document.ID,
		Name:       env.Document.Name,
		Queued:     true,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *IngestHandler) handleError(c *gin.Context, status int, message string, err error) {
	if err != nil {
		h.logger.Error(message, logger.Error(err))
		c.JSON(status, ErrorResponse{Error: err.Error(), Message: message})
		return
	}
	h.logger.Error(message)
	c.JSON(status, ErrorResponse{Error: message, Message: message})
}
