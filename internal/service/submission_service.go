package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/repository"
	"github.com/noah-isme/codeprobe-api/pkg/vectorstore"
)

// ErrAssessmentNotFound indicates an assessment could not be found.
var ErrAssessmentNotFound = errors.New("assessment not found")

// SubmissionService finalizes submissions and tears them down.
type SubmissionService interface {
	Finalize(ctx context.Context, id uint, payload dto.FinalizeSubmissionRequest) (dto.FinalizeSubmissionResponse, error)
	DeleteSubmission(ctx context.Context, id uint) (dto.CascadeDeleteResponse, error)
	DeleteAssessment(ctx context.Context, id uint) (dto.CascadeDeleteResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	cascade     repository.CascadeRepository
	queue       IndexingQueue
	store       vectorstore.Store
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(subRepo repository.SubmissionRepository, cascadeRepo repository.CascadeRepository, queue IndexingQueue, store vectorstore.Store, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: subRepo,
		cascade:     cascadeRepo,
		queue:       queue,
		store:       store,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Finalize pins the repository and queues indexing without waiting for it.
func (s *submissionService) Finalize(ctx context.Context, id uint, payload dto.FinalizeSubmissionRequest) (dto.FinalizeSubmissionResponse, error) {
	payload.Owner = strings.TrimSpace(payload.Owner)
	payload.Repo = strings.TrimSuffix(strings.TrimSpace(payload.Repo), ".git")
	payload.PinnedCommitSHA = strings.ToLower(strings.TrimSpace(payload.PinnedCommitSHA))
	if err := s.validator.Struct(payload); err != nil {
		return dto.FinalizeSubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.FinalizeSubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.FinalizeSubmissionResponse{}, err
	}

	pinned := models.GitHubRepo{
		Owner:           payload.Owner,
		Repo:            payload.Repo,
		PinnedCommitSHA: payload.PinnedCommitSHA,
	}
	if submission.GitHubRepo != pinned || submission.FinalizedAt == nil {
		now := s.now()
		submission.FinalizedAt = &now
	}
	submission.GitHubRepo = pinned
	submission.Status = models.SubmissionStatusFinalized

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.FinalizeSubmissionResponse{}, fmt.Errorf("update submission: %w", err)
	}

	record, err := s.queue.Enqueue(ctx, submission.ID, pinned.PinnedCommitSHA)
	if err != nil {
		return dto.FinalizeSubmissionResponse{}, fmt.Errorf("queue indexing: %w", err)
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("repo", pinned.Owner+"/"+pinned.Repo).
		Str("commit", pinned.PinnedCommitSHA).
		Msg("submission finalized")

	return dto.FinalizeSubmissionResponse{
		Submission: dto.NewSubmissionResponse(submission),
		RepoIndex:  dto.NewRepoIndexResponse(record),
	}, nil
}

func (s *submissionService) DeleteSubmission(ctx context.Context, id uint) (dto.CascadeDeleteResponse, error) {
	result, err := s.cascade.DeleteSubmission(ctx, id, s.purgeNamespaces)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CascadeDeleteResponse{}, ErrSubmissionNotFound
		}
		return dto.CascadeDeleteResponse{}, err
	}

	s.logger.Info().Uint("submission_id", id).Int64("questions", result.Questions).Msg("submission deleted")
	return newCascadeDeleteResponse(result), nil
}

func (s *submissionService) DeleteAssessment(ctx context.Context, id uint) (dto.CascadeDeleteResponse, error) {
	result, err := s.cascade.DeleteAssessment(ctx, id, s.purgeNamespaces)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CascadeDeleteResponse{}, ErrAssessmentNotFound
		}
		return dto.CascadeDeleteResponse{}, err
	}

	s.logger.Info().Uint("assessment_id", id).Int("submissions", len(result.SubmissionIDs)).Msg("assessment deleted")
	return newCascadeDeleteResponse(result), nil
}

func (s *submissionService) purgeNamespaces(ctx context.Context, namespaces []string) error {
	for _, namespace := range namespaces {
		if err := s.store.DeleteNamespace(ctx, namespace); err != nil {
			return fmt.Errorf("purge namespace %s: %w", namespace, err)
		}
	}
	return nil
}

func newCascadeDeleteResponse(result repository.CascadeResult) dto.CascadeDeleteResponse {
	response := dto.CascadeDeleteResponse{
		SubmissionIDs: result.SubmissionIDs,
		Namespaces:    result.Namespaces,
		Questions:     result.Questions,
		RepoIndexes:   result.RepoIndexes,
	}
	if response.SubmissionIDs == nil {
		response.SubmissionIDs = []uint{}
	}
	if response.Namespaces == nil {
		response.Namespaces = []string{}
	}
	return response
}
