package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openoverheid/docpipe/api/handlers"
	"github.com/openoverheid/docpipe/api/middleware"
)

// SetupRoutes configures all gateway routes.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/api/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/ingest", h.Ingest.IngestDocument)
		api.GET("/status", h.Status.ListStatus)
		api.GET("/status/:id", h.Status.GetStatus)
		api.GET("/search", h.Search.Search)
	}
}
