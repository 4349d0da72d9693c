package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/codeprobe-api/internal/utils"
)

// CodeRateLimited tags 429 responses in the envelope.
const CodeRateLimited = "rate_limited"

// RateLimit budgets requests per authenticated user, falling back to the client IP.
// Buckets are namespaced by identifier so separate limiters never share counters.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id, ok := c.Locals("user_id").(uint); ok && id != 0 {
				return fmt.Sprintf("%s:user:%d", identifier, id)
			}
			return fmt.Sprintf("%s:ip:%s", identifier, c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendErrorCode(c, fiber.StatusTooManyRequests, CodeRateLimited,
				fmt.Sprintf("too many %s requests, retry in %s", identifier, window))
		},
	})
}
