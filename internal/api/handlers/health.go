package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/steamlens/steamlens-go/internal/database"
)

var startTime = time.Now()

// HealthHandler reports service liveness and dependency health.
type HealthHandler struct {
	db    *database.PostgresDB
	redis *database.RedisClient
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(db *database.PostgresDB, redis *database.RedisClient) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// HealthCheck reports overall status: ok when all dependencies answer,
// degraded otherwise.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	services := make(map[string]string)
	status := "ok"

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			services["database"] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			services["database"] = "healthy"
		}
	} else {
		services["database"] = "unhealthy: not configured"
		status = "degraded"
	}

	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "unhealthy: not configured"
		status = "degraded"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Services:  services,
		Version:   "1.0.0",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	})
}
