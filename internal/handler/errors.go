package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/service"
	"github.com/noah-isme/codeprobe-api/internal/utils"
)

// Machine readable error codes returned in the response envelope.
const (
	CodeNotIndexed             = "not_indexed"
	CodeIndexingInProgress     = "indexing_in_progress"
	CodeIndexFailed            = "index_failed"
	CodeDescriptionRequired    = "description_required"
	CodeNoRelevantChunks       = "no_relevant_chunks"
	CodeQueryRequired          = "query_required"
	CodeSubmissionNotFound     = "submission_not_found"
	CodeAssessmentNotFound     = "assessment_not_found"
	CodeSubmissionNotFinalized = "submission_not_finalized"
	CodeModelContract          = "model_contract_violation"
	CodeGeneratorUnavailable   = "generator_unavailable"
	CodeInvalidTranscript      = "invalid_transcript"
	CodeValidationFailed       = "validation_failed"
	CodeQueueUnavailable       = "queue_unavailable"
	CodeInvalidPayload         = "invalid_payload"
	CodeSeedDisabled           = "seed_disabled"
	CodeSeedForbidden          = "seed_forbidden"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: a deleted submission is reported as not indexed by the retriever.
var domainErrors = []errorMapping{
	{service.ErrNotIndexed, fiber.StatusConflict, CodeNotIndexed, "repository has not been indexed"},
	{service.ErrIndexingInProgress, fiber.StatusConflict, CodeIndexingInProgress, "repository indexing is in progress"},
	{service.ErrIndexFailed, fiber.StatusConflict, CodeIndexFailed, "repository indexing failed, re-trigger indexing"},
	{service.ErrSubmissionNotFinalized, fiber.StatusConflict, CodeSubmissionNotFinalized, "submission is not finalized"},
	{service.ErrSubmissionNotFound, fiber.StatusNotFound, CodeSubmissionNotFound, "submission not found"},
	{service.ErrAssessmentNotFound, fiber.StatusNotFound, CodeAssessmentNotFound, "assessment not found"},
	{service.ErrNoRelevantChunks, fiber.StatusNotFound, CodeNoRelevantChunks, "no relevant code found for this submission"},
	{service.ErrQueryRequired, fiber.StatusBadRequest, CodeQueryRequired, "search query is required"},
	{service.ErrDescriptionRequired, fiber.StatusBadRequest, CodeDescriptionRequired, "assessment description is required"},
	{service.ErrInvalidTranscript, fiber.StatusBadRequest, CodeInvalidTranscript, "transcript format not recognized"},
	{service.ErrModelContract, fiber.StatusBadGateway, CodeModelContract, "model returned an invalid question set"},
	{service.ErrGeneratorUnavailable, fiber.StatusServiceUnavailable, CodeGeneratorUnavailable, "question generator unavailable"},
	{service.ErrSeedDisabled, fiber.StatusForbidden, CodeSeedDisabled, "seeding disabled"},
	{service.ErrSeedUnauthorized, fiber.StatusForbidden, CodeSeedForbidden, "invalid seed token"},
	{service.ErrQueueClosed, fiber.StatusServiceUnavailable, CodeQueueUnavailable, "indexing queue is shutting down"},
}

// respondError writes the envelope for known domain errors and logs everything else as internal.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	if fields, ok := utils.FieldErrors(err); ok {
		return utils.Fail(c, fiber.StatusBadRequest, CodeValidationFailed, "request validation failed", fields)
	}

	for _, mapping := range domainErrors {
		if errors.Is(err, mapping.target) {
			return utils.SendErrorCode(c, mapping.status, mapping.code, mapping.message)
		}
	}

	requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
