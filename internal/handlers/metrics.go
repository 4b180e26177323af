package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/services"
	"gorm.io/gorm"
)

var startTime = time.Now()

// MetricsHandler exposes gateway gauges in the Prometheus text format.
type MetricsHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
}

func NewMetricsHandler(db *gorm.DB, queue services.TaskQueue) *MetricsHandler {
	return &MetricsHandler{db: db, queue: queue}
}

// Metrics returns Prometheus-compatible text format metrics.
// GET /api/admin/metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "monkbot_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "monkbot_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "monkbot_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "monkbot_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	queueAsync := 0.0
	if h.queue != nil && h.queue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "monkbot_queue_async_enabled", "Whether chat logs go through Redis (1=yes, 0=no)", queueAsync)

	if sqlDB, err := h.db.DB(); err == nil {
		stats := sqlDB.Stats()
		writeGauge(&b, "monkbot_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
		writeGauge(&b, "monkbot_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
	}

	db := h.db.WithContext(c.Request.Context())

	var activeKeys, disabledKeys, activeDomains, users int64
	db.Model(&models.APIKey{}).Where("status = ?", models.KeyStatusActive).Count(&activeKeys)
	db.Model(&models.APIKey{}).Where("status = ?", models.KeyStatusDisabled).Count(&disabledKeys)
	db.Model(&models.AllowedDomain{}).Where("status = ?", models.DomainStatusActive).Count(&activeDomains)
	db.Model(&models.User{}).Count(&users)

	writeGauge(&b, "monkbot_api_keys_active", "Number of active API keys", float64(activeKeys))
	writeGauge(&b, "monkbot_api_keys_disabled", "Number of disabled API keys", float64(disabledKeys))
	writeGauge(&b, "monkbot_domains_active", "Number of active domain bindings", float64(activeDomains))
	writeGauge(&b, "monkbot_users_total", "Number of registered accounts", float64(users))

	var outstanding int64
	db.Model(&models.APIKey{}).Where("status = ?", models.KeyStatusActive).
		Select("COALESCE(SUM(credits_remaining), 0)").Scan(&outstanding)
	writeGauge(&b, "monkbot_credits_outstanding", "Credits remaining across active keys", float64(outstanding))

	since24h := time.Now().Add(-24 * time.Hour)
	var completions24h int64
	db.Model(&models.CreditLedgerEntry{}).
		Where("reason = ? AND created_at >= ?", models.ReasonChatCompletion, since24h).
		Count(&completions24h)
	writeGauge(&b, "monkbot_billed_completions_24h", "Billed chat completions in the last 24 hours", float64(completions24h))

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
