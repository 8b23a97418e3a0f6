package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports subsystem status.
type HealthHandler struct {
	db    *gorm.DB
	cfg   *config.Config
	queue services.TaskQueue
}

func NewHealthHandler(db *gorm.DB, cfg *config.Config, queue services.TaskQueue) *HealthHandler {
	return &HealthHandler{db: db, cfg: cfg, queue: queue}
}

// CheckHealth answers 503 when the database is unreachable.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall, status := "healthy", http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall, status = "unhealthy", http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	var lastError string
	if dbStatus == "ok" {
		var failing models.SyncSchedule
		if h.db.Where("last_error <> ''").Order("updated_at DESC").Limit(1).Find(&failing).RowsAffected > 0 {
			lastError = failing.LastError
			overall = "degraded"
		}
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "trackersync",
		"components": gin.H{
			"database":        dbStatus,
			"queue_mode":      queueMode,
			"redmine":         len(h.cfg.Redmine.MissingKeys()) == 0,
			"gitlab":          h.cfg.GitLab.Enabled(),
			"last_sync_error": lastError,
		},
	})
}
