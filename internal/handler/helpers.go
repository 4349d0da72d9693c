package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/observability"
)

func parseIDParam(c *fiber.Ctx, key string) (uint, error) {
	value := strings.TrimSpace(c.Params(key))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(parsed), nil
}

// requestLogger tags base with the correlation id and, when authenticated, the caller.
func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := observability.ContextLogger(c.UserContext(), base)
	if userID, ok := c.Locals("user_id").(uint); ok && userID != 0 {
		logger = logger.With().Uint("user_id", userID).Logger()
	}
	return &logger
}

// hasBody reports whether the request carries a payload worth parsing.
func hasBody(c *fiber.Ctx) bool {
	return len(strings.TrimSpace(string(c.Body()))) > 0
}
