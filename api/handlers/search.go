package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openoverheid/docpipe/internal/stages/searchindex"
	"github.com/openoverheid/docpipe/pkg/logger"
)

// Searcher is the search-engine seam for the gateway.
type Searcher interface {
	Search(ctx context.Context, query string, rows int) (*searchindex.SearchResult, error)
}

// SearchHandler proxies full-text queries to the search index.
type SearchHandler struct {
	searcher Searcher
	logger   logger.Logger
}

func NewSearchHandler(searcher Searcher, log logger.Logger) *SearchHandler {
	return &SearchHandler{
		searcher: searcher,
		logger:   log,
	}
}

// SearchResponse wraps the index hits for the gateway client.
type SearchResponse struct {
	Query     string           `json:"query"`
	NumFound  int              `json:"numFound"`
	Documents []map[string]any `json:"documents"`
}

// Search handles GET /api/search?q=...&rows=....
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "query is required", Message: "query is required"})
		return
	}

	rows := 10
	if v := c.Query("rows"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rows = n
		}
	}

	result, err := h.searcher.Search(c.Request.Context(), query, rows)
	if err != nil {
		h.logger.Error("Search query failed", logger.String("query", query), logger.Error(err))
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Message: "search engine unavailable"})
		return
	}

	docs := result.Docs
	if docs == nil {
		docs = []map[string]any{}
	}
	c.JSON(http.StatusOK, SearchResponse{
		Query:     query,
		NumFound:  result.NumFound,
		Documents: docs,
	})
}
