package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/codeprobe-api/internal/utils"
)

// Auth role constants used by WithAuth helper.
const (
	AuthRoleAny         = "any"
	AuthRoleEmployer    = "employer"
	AuthRoleInterviewer = "interviewer"
)

// CodeForbidden tags role check failures in the envelope.
const CodeForbidden = "forbidden"

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a handler with authentication and role guards.
// Employers may act as interviewers; admins pass every role check.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser
	if !requireUser && role != AuthRoleAny {
		requireUser = true
	}

	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id")
		if requireUser && userID == nil {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, CodeUnauthorized, "authentication required")
		}

		if role == AuthRoleAny {
			return handler(c)
		}

		if !roleSatisfies(normalizeRoleValue(c.Locals("user_role")), role) {
			return utils.SendErrorCode(c, fiber.StatusForbidden, CodeForbidden, "insufficient permissions")
		}

		return handler(c)
	}
}

func roleSatisfies(current, required string) bool {
	if current == "admin" {
		return true
	}
	switch required {
	case AuthRoleEmployer:
		return current == AuthRoleEmployer
	case AuthRoleInterviewer:
		return current == AuthRoleInterviewer || current == AuthRoleEmployer
	default:
		return current == required
	}
}

// normalizeRoleValue lower-cases whatever the auth middleware stored in user_role.
func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
}
