package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/codeprobe-api/internal/config"
	"github.com/noah-isme/codeprobe-api/internal/handler"
	"github.com/noah-isme/codeprobe-api/internal/middleware"
	"github.com/noah-isme/codeprobe-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler        *handler.SubmissionHandler
	RepoIndexHandler         *handler.RepoIndexHandler
	InterviewQuestionHandler *handler.InterviewQuestionHandler
	SeedHandler              *handler.SeedHandler
	JWTMiddleware            fiber.Handler
	HealthProbes             map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health, tooling & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	if deps.SeedHandler != nil {
		deps.SeedHandler.Register(api.Group("/seed"))
	}

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	v2 := app.Group("/api/v2", jwtMiddleware)

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(v2)
	}

	if deps.RepoIndexHandler != nil {
		deps.RepoIndexHandler.Register(v2)
	}

	// Question generation calls the model; it gets its own per-user budget.
	if deps.InterviewQuestionHandler != nil {
		deps.InterviewQuestionHandler.Register(v2, middleware.RateLimit("generate", cfg.GenerateRateLimit, cfg.GenerateRateLimitWindow))
	}
}
