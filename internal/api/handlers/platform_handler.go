package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type TokenChecker interface {
	Check(ctx context.Context) map[string]transfer.TokenHealth
}

type PlatformHandler struct {
	cfg    config.Config
	tokens TokenChecker
}

func NewPlatformHandler(cfg config.Config, tokens TokenChecker) *PlatformHandler {
	return &PlatformHandler{cfg: cfg, tokens: tokens}
}

func (h *PlatformHandler) ListPlatforms(c *fiber.Ctx) error {
	platforms := make([]transfer.PlatformInfo, 0, len(models.Platforms))
	for _, p := range models.Platforms {
		platforms = append(platforms, transfer.PlatformInfo{
			Platform:   string(p),
			Name:       p.DisplayName(),
			Configured: h.cfg.PlatformConfigured(p),
		})
	}
	return c.Status(fiber.StatusOK).JSON(platforms)
}

// TokenHealth reports credential state per platform and notification sink.
func (h *PlatformHandler) TokenHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.tokens.Check(c.Context()))
}
