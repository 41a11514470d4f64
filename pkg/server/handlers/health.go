package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborstone/dealgraph"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	client dealgraph.DealGraph
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(client dealgraph.DealGraph) *HealthHandler {
	return &HealthHandler{client: client}
}

// HealthCheck handles GET /health - basic liveness check.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "dealgraph",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// ReadinessCheck handles GET /ready. It proves the store answers reads; a
// stats call on a probe deal has no side effects and touches every
// bookkeeping keyspace.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  "client not initialized",
		})
		return
	}

	start := time.Now()
	_, err := h.client.Stats(ctx, "readiness-probe")
	duration := time.Since(start)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"error":    err.Error(),
			"duration": duration.String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"service":   "dealgraph",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"duration":  duration.String(),
	})
}

// LivenessCheck handles GET /live - Kubernetes liveness probe endpoint.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"service":   "dealgraph",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
