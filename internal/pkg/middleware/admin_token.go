package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// AdminTokenConfig configures AdminTokenMiddleware.
type AdminTokenConfig struct {
	Token string
	// Production makes a missing token fatal for every request instead of
	// letting requests through with a warning.
	Production bool
}

// AdminTokenMiddleware authenticates operator requests carrying the shared admin
// token in X-Admin-Token or an Authorization bearer header.
func AdminTokenMiddleware(cfg AdminTokenConfig) fiber.Handler {
	expected := strings.TrimSpace(cfg.Token)
	return func(c *fiber.Ctx) error {
		if expected == "" {
			if cfg.Production {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Admin access is not configured"})
			}
			log.Warnf("[Admin] ADMIN_TOKEN is not set; allowing %s %s without authentication", c.Method(), c.Path())
			return c.Next()
		}

		token := extractAdminToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing admin token"})
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin token"})
		}
		return c.Next()
	}
}

func extractAdminToken(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get("X-Admin-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
