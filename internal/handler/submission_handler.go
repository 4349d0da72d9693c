package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/middleware"
	"github.com/noah-isme/codeprobe-api/internal/service"
	"github.com/noah-isme/codeprobe-api/internal/utils"
)

// SubmissionHandler manages the submission lifecycle endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	employer := middleware.AuthOptions{Role: middleware.AuthRoleEmployer}
	router.Post("/submissions/:id/finalize", middleware.WithAuth(h.finalize, employer))
	router.Delete("/submissions/:id", middleware.WithAuth(h.deleteSubmission, employer))
	router.Delete("/assessments/:id", middleware.WithAuth(h.deleteAssessment, employer))
}

func (h *SubmissionHandler) finalize(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	var payload dto.FinalizeSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, "invalid payload")
	}

	response, err := h.service.Finalize(c.UserContext(), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission finalized, indexing queued", response)
}

func (h *SubmissionHandler) deleteSubmission(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	response, err := h.service.DeleteSubmission(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission deleted", response)
}

func (h *SubmissionHandler) deleteAssessment(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	response, err := h.service.DeleteAssessment(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assessment deleted", response)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	return respondError(c, h.logger, err)
}
