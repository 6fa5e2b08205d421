package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/mediaforge/internal/job"
)

// HealthHandler answers GET /healthz with queue and worker occupancy,
// the only REST surface this service exposes per SPEC_FULL §4.10.
type HealthHandler struct {
	manager *job.Manager
}

func NewHealthHandler(manager *job.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

func (h *HealthHandler) Healthz(c *fiber.Ctx) error {
	stats := h.manager.Stats()
	return c.JSON(fiber.Map{
		"status":         "ok",
		"jobs_total":     stats.Total,
		"jobs_active":    stats.Active,
		"jobs_queued":    stats.Queued,
		"max_concurrent": stats.MaxConcurrent,
	})
}
