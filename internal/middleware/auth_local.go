package middleware

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"

	"foodlog/pkg/auth"
)

// Locals keys set for authenticated requests
const (
	LocalUserID       = "user_id"
	LocalUserEmail    = "user_email"
	LocalUserTimezone = "user_timezone"
)

// LocalAuthMiddleware verifies Bearer JWTs. Without a verifier (no
// JWT_SECRET) requests run as a fixed dev user outside production.
func LocalAuthMiddleware(jwtAuth *auth.LocalJWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if jwtAuth == nil {
			environment := os.Getenv("ENVIRONMENT")
			if environment != "development" && environment != "testing" && environment != "" {
				log.Printf("❌ [AUTH] JWT auth not configured in %s, refusing request", environment)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "Authentication service unavailable",
				})
			}

			c.Locals(LocalUserID, "dev-user")
			c.Locals(LocalUserEmail, "dev@localhost")
			return c.Next()
		}

		token, err := auth.ExtractToken(c.Get("Authorization"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			log.Printf("❌ [AUTH] Token rejected: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(LocalUserID, user.ID)
		c.Locals(LocalUserEmail, user.Email)
		c.Locals(LocalUserTimezone, user.Timezone)
		return c.Next()
	}
}

// UserID returns the authenticated user id, or "" when the request is
// unauthenticated
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(LocalUserID).(string)
	return userID
}
