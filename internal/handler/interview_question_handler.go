package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/middleware"
	"github.com/noah-isme/codeprobe-api/internal/service"
	"github.com/noah-isme/codeprobe-api/internal/utils"
)

// InterviewQuestionHandler serves grounded question generation.
type InterviewQuestionHandler struct {
	service service.InterviewQuestionService
	logger  zerolog.Logger
}

// NewInterviewQuestionHandler builds an interview question handler.
func NewInterviewQuestionHandler(service service.InterviewQuestionService, logger zerolog.Logger) *InterviewQuestionHandler {
	return &InterviewQuestionHandler{
		service: service,
		logger:  logger.With().Str("component", "interview_question_handler").Logger(),
	}
}

// Register attaches the routes. Limiters, when given, guard the model backed endpoints.
func (h *InterviewQuestionHandler) Register(router fiber.Router, limiters ...fiber.Handler) {
	interviewer := middleware.AuthOptions{Role: middleware.AuthRoleInterviewer}

	generate := append(append([]fiber.Handler{}, limiters...), middleware.WithAuth(h.generate, interviewer))
	followUp := append(append([]fiber.Handler{}, limiters...), middleware.WithAuth(h.followUp, interviewer))

	router.Post("/submissions/:id/interview-questions", generate...)
	router.Get("/submissions/:id/interview-questions", middleware.WithAuth(h.list, interviewer))
	router.Post("/submissions/:id/follow-up-question", followUp...)
}

func (h *InterviewQuestionHandler) generate(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	var payload dto.GenerateQuestionsRequest
	if hasBody(c) {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, "invalid payload")
		}
	}

	response, err := h.service.Generate(c.UserContext(), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "interview questions generated", response)
}

func (h *InterviewQuestionHandler) list(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	questions, err := h.service.List(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, questions, "interview questions retrieved", fiber.Map{"count": len(questions)})
}

func (h *InterviewQuestionHandler) followUp(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	var payload dto.FollowUpQuestionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, "invalid payload")
	}

	response, err := h.service.FollowUp(c.UserContext(), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "follow-up question generated", response)
}

func (h *InterviewQuestionHandler) handleError(c *fiber.Ctx, err error) error {
	return respondError(c, h.logger, err)
}
