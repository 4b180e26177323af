package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/monkbot/gateway/internal/middleware"
	"github.com/monkbot/gateway/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the gateway's dependencies.
type HealthHandler struct {
	db      *gorm.DB
	queue   services.TaskQueue
	limiter middleware.Limiter
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, limiter middleware.Limiter) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, limiter: limiter}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	// Database check
	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	limiter := "disabled"
	if h.limiter != nil {
		limiter = h.limiter.Backend()
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "monkbot-gateway",
		"components": gin.H{
			"database":     dbStatus,
			"queue_mode":   queueMode,
			"rate_limiter": limiter,
		},
	})
}
