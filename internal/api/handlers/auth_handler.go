package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/rs/zerolog/log"
)

const tokenDuration = 24 * time.Hour

type AuthHandler struct {
	cfg config.Config
}

func NewAuthHandler(cfg config.Config) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

// IssueToken exchanges the shared secret for a bearer token.
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req transfer.TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	if !utils.KeyMatches(h.cfg.SecretKey, req.Secret) {
		log.Warn().Str("ip", c.IP()).Msg("token request with invalid secret")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid secret",
		})
	}

	token, expiresAt, err := utils.GenerateToken(h.cfg.SecretKey, "operator", tokenDuration)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	return c.Status(fiber.StatusOK).JSON(transfer.TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}
