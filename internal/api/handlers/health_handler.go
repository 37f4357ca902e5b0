package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vanishmail/vanishmail-backend/internal/rotation"
	"gorm.io/gorm"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db       *gorm.DB
	rotation *rotation.Manager
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *gorm.DB, rotationMgr *rotation.Manager) *HealthHandler {
	return &HealthHandler{
		db:       db,
		rotation: rotationMgr,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles GET /ready. It reports database reachability and the
// current Redis rotation position.
func (h *HealthHandler) Ready(c echo.Context) error {
	body := map[string]interface{}{
		"status": "ready",
	}

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		body["status"] = "not ready"
		body["database"] = "unreachable"
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	body["database"] = "ok"

	if h.rotation != nil {
		body["redis_rotation"] = h.rotation.Info()
	}
	return c.JSON(http.StatusOK, body)
}
