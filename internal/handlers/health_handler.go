package handlers

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewHealthHandler(db *gorm.DB, clk clock.Clock) *HealthHandler {
	return &HealthHandler{db: db, clock: clk}
}

// Health reports liveness and database reachability
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status, code := "ok", http.StatusOK

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": status,
		"time":   h.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}
