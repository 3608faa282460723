package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/rs/zerolog/log"
)

const AuthKeyHeader = "X-Auth-Key"

type AuthMiddleware struct {
	cfg config.Config
}

func NewAuthMiddleware(cfg config.Config) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg}
}

// AuthMiddleware accepts either the shared secret in X-Auth-Key or a bearer
// token issued by /auth/token.
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get(AuthKeyHeader)
		bearer := strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))

		if apiKey == "" && bearer == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing auth key or bearer token",
			})
		}

		if apiKey != "" {
			if !utils.KeyMatches(m.cfg.SecretKey, apiKey) {
				log.Warn().Str("ip", c.IP()).Msg("rejected request with invalid auth key")
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid auth key",
				})
			}
			c.Locals("subject", "api-key")
			return c.Next()
		}

		claims, err := utils.ValidateToken(m.cfg.SecretKey, bearer)
		if err != nil {
			log.Warn().Err(err).Str("ip", c.IP()).Msg("token validation failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}
		c.Locals("subject", claims.Subject)
		return c.Next()
	}
}
