package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/service"
	"github.com/noah-isme/codeprobe-api/internal/utils"
)

// SeedTokenHeader carries the shared secret guarding the seed endpoints.
const SeedTokenHeader = "X-Seed-Token"

// maxSeedItems bounds a single seed request.
const maxSeedItems = 500

// SeedHandler loads demo assessments and submissions.
type SeedHandler struct {
	service service.SeedService
	logger  zerolog.Logger
}

// NewSeedHandler constructs a seed handler.
func NewSeedHandler(service service.SeedService, logger zerolog.Logger) *SeedHandler {
	return &SeedHandler{
		service: service,
		logger:  logger.With().Str("component", "seed_handler").Logger(),
	}
}

// Register wires seed routes. They sit outside JWT auth and rely on the seed token instead.
func (h *SeedHandler) Register(router fiber.Router) {
	router.Post("/assessments", func(c *fiber.Ctx) error {
		return seedBatch(h, c, "assessments", h.service.SeedAssessments)
	})
	router.Post("/submissions", func(c *fiber.Ctx) error {
		return seedBatch(h, c, "submissions", h.service.SeedSubmissions)
	})
}

type seedRequest[T models.Assessment | models.Submission] struct {
	Items []T `json:"items"`
}

func seedBatch[T models.Assessment | models.Submission](
	h *SeedHandler,
	c *fiber.Ctx,
	kind string,
	run func(ctx context.Context, token string, items []T) (int64, error),
) error {
	var payload seedRequest[T]
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, "invalid payload")
	}
	switch {
	case len(payload.Items) == 0:
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, "items are required")
	case len(payload.Items) > maxSeedItems:
		return utils.SendErrorCode(c, fiber.StatusRequestEntityTooLarge, CodeInvalidPayload,
			fmt.Sprintf("at most %d items per request", maxSeedItems))
	}

	affected, err := run(c.UserContext(), c.Get(SeedTokenHeader), payload.Items)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().Str("kind", kind).Int64("affected", affected).Msg("seed applied")
	return utils.SendSuccess(c, kind+" seeded", fiber.Map{"affected": affected})
}
