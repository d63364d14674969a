package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/atlas-platform/edge-gateway/internal/route"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	redisClient redis.Cmdable
	table       *route.Table
}

// NewHealthHandler creates a health handler. redisClient may be nil when the
// gateway runs without a counter store.
func NewHealthHandler(redisClient redis.Cmdable, table *route.Table) *HealthHandler {
	return &HealthHandler{redisClient: redisClient, table: table}
}

// Healthz reports process liveness.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports whether the gateway can serve traffic: the counter store
// must answer a ping and the route table must hold at least one route.
func (h *HealthHandler) Readyz(c *gin.Context) {
	if h.redisClient != nil {
		if err := h.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"reason": "redis unreachable",
			})
			return
		}
	}
	if h.table.Size() == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"reason": "route table empty",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
