package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/middleware"
	"github.com/noah-isme/codeprobe-api/internal/service"
	"github.com/noah-isme/codeprobe-api/internal/utils"
)

// RepoIndexHandler exposes indexing triggers, status polling and code search.
type RepoIndexHandler struct {
	indexer   service.RepoIndexService
	retriever service.CodeSearchService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRepoIndexHandler builds a repo index handler.
func NewRepoIndexHandler(indexer service.RepoIndexService, retriever service.CodeSearchService, validate *validator.Validate, logger zerolog.Logger) *RepoIndexHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &RepoIndexHandler{
		indexer:   indexer,
		retriever: retriever,
		validator: validate,
		logger:    logger.With().Str("component", "repo_index_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *RepoIndexHandler) Register(router fiber.Router) {
	interviewer := middleware.AuthOptions{Role: middleware.AuthRoleInterviewer}
	router.Post("/submissions/:id/index-repo", middleware.WithAuth(h.index, middleware.AuthOptions{Role: middleware.AuthRoleEmployer}))
	router.Get("/submissions/:id/repo-index", middleware.WithAuth(h.status, interviewer))
	router.Post("/submissions/:id/search-code", middleware.WithAuth(h.search, interviewer))
}

// index runs the pipeline inline. A failed run is still a 200; the failure is part of the payload.
func (h *RepoIndexHandler) index(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	result, err := h.indexer.IndexSubmission(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "indexing finished", result)
}

func (h *RepoIndexHandler) status(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	record, err := h.indexer.Status(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "repo index retrieved", record)
}

func (h *RepoIndexHandler) search(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, err.Error())
	}

	var payload dto.CodeSearchRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, CodeInvalidPayload, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return h.handleError(c, err)
	}

	response, err := h.retriever.Search(c.UserContext(), id, payload.Query, service.SearchOptions{TopK: payload.TopK})
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "code retrieved", response)
}

func (h *RepoIndexHandler) handleError(c *fiber.Ctx, err error) error {
	return respondError(c, h.logger, err)
}
