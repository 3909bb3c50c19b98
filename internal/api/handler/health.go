package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/database"
)

type HealthHandler struct {
	db      database.Pinger
	version string
	logger  *slog.Logger
}

// NewHealthHandler creates the health handler. db may be nil, in which
// case readiness does not depend on the database.
func NewHealthHandler(db database.Pinger, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, version: version, logger: logger}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "ok",
		Version: h.version,
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if h.db != nil {
		if err := database.HealthCheck(c.Context(), h.db); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{Status: "unavailable"})
		}
	}
	return c.JSON(HealthResponse{
		Status: "ready",
	})
}
