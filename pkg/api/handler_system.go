package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classedge/sensei/pkg/health"
)

// CacheStats handles GET /api/v1/cache/stats.
func (s *Server) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Stats(c.Request.Context()))
}

// InvalidateCache handles POST /api/v1/cache/invalidate.
func (s *Server) InvalidateCache(c *gin.Context) {
	var req InvalidateCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	deleted := s.cache.Invalidate(c.Request.Context(), req.Pattern)
	c.JSON(http.StatusOK, InvalidateCacheResponse{Deleted: deleted})
}

// Health handles GET /health. A critical overall status maps to 503 so
// probes fail over without parsing the body.
func (s *Server) Health(c *gin.Context) {
	report := s.health.Report()
	status := http.StatusOK
	if report.Overall == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
