package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// LocalUsername is the fiber.Ctx local holding the authenticated subject.
const LocalUsername = "auth.username"

// Middleware rejects requests without a valid bearer token carrying role.
func Middleware(secret, role string) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		claims, err := RequireRole(secret, strings.TrimSpace(tokenStr), role)
		switch {
		case errors.Is(err, ErrForbidden):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
		case err != nil:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		c.Locals(LocalUsername, claims.Subject)
		return c.Next()
	}
}

// Username returns the subject stored by Middleware, or "".
func Username(c fiber.Ctx) string {
	name, _ := c.Locals(LocalUsername).(string)
	return name
}
