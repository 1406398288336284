package middleware

import (
	"crypto/subtle"
	"strings"

	"docgrid/config"
	"docgrid/handlers"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Authorization checks the Bearer token of every request against the master
// key. An empty master key disables authentication.
func Authorization(cfg *config.Config, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.RequiresAuth() {
			return c.Next()
		}

		reject := func(reason string) error {
			logger.Warn(reason,
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
				zap.String("ip", c.IP()),
			)
			return handlers.Unauthorized(c, reason)
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return reject("missing authorization header")
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" {
			return reject("invalid authorization format, expected 'Bearer <token>'")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.MasterKey)) != 1 {
			return reject("invalid authorization token")
		}

		return c.Next()
	}
}
