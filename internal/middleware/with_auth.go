package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-praktikum-api/internal/utils"
)

// Auth role groups accepted by WithAuth.
const (
	AuthRoleAny     = "any"
	AuthRoleStudent = "student"
	AuthRoleGrader  = "grader"
	AuthRoleAdmin   = "admin"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role string
	// AllowAnonymous lets AuthRoleAny handlers run without an authenticated user.
	AllowAnonymous bool
}

// WithAuth wraps a handler with authentication and role guards. Graders are assistants
// and admins; admins pass every role check.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	return func(c *fiber.Ctx) error {
		authenticated := userIDPresent(c.Locals("user_id"))
		if !authenticated {
			if role == AuthRoleAny && opts.AllowAnonymous {
				return handler(c)
			}
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}

		if !roleSatisfies(normalizeRoleValue(c.Locals("user_role")), role) {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}

		return handler(c)
	}
}

func roleSatisfies(current, required string) bool {
	if current == "admin" {
		return true
	}
	switch required {
	case AuthRoleAny:
		return true
	case AuthRoleStudent:
		return current == "student" || current == "asisten"
	case AuthRoleGrader:
		return current == "asisten"
	default:
		return current == required
	}
}

func userIDPresent(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case uint:
		return v != 0
	case int:
		return v > 0
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}
