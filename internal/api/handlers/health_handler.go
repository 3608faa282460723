package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type SchedulerStatus interface {
	Running() bool
	LastPass() time.Time
}

type HealthHandler struct {
	scheduler SchedulerStatus
}

func NewHealthHandler(scheduler SchedulerStatus) *HealthHandler {
	return &HealthHandler{scheduler: scheduler}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":            "ok",
		"scheduler_running": h.scheduler.Running(),
	}
	if last := h.scheduler.LastPass(); !last.IsZero() {
		resp["last_pass"] = last.UTC()
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
