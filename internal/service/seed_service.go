package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/repository"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
)

// SeedService loads assessments and submissions for demos and local testing.
type SeedService interface {
	SeedAssessments(ctx context.Context, token string, items []models.Assessment) (int64, error)
	SeedSubmissions(ctx context.Context, token string, items []models.Submission) (int64, error)
}

type seedService struct {
	assessmentRepo repository.AssessmentRepository
	submissionRepo repository.SubmissionRepository
	enabled        bool
	token          string
	logger         zerolog.Logger
	now            func() time.Time
}

// NewSeedService constructs a seeding service.
func NewSeedService(assessmentRepo repository.AssessmentRepository, submissionRepo repository.SubmissionRepository, enabled bool, token string, logger zerolog.Logger) SeedService {
	return &seedService{
		assessmentRepo: assessmentRepo,
		submissionRepo: submissionRepo,
		enabled:        enabled,
		token:          token,
		logger:         logger.With().Str("component", "seed_service").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *seedService) SeedAssessments(ctx context.Context, token string, items []models.Assessment) (int64, error) {
	if err := s.authorize(token); err != nil {
		return 0, err
	}
	affected, err := s.assessmentRepo.UpsertBatch(ctx, normalizeAssessments(items))
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("affected", affected).Msg("assessments seeded")
	return affected, nil
}

func (s *seedService) SeedSubmissions(ctx context.Context, token string, items []models.Submission) (int64, error) {
	if err := s.authorize(token); err != nil {
		return 0, err
	}
	affected, err := s.submissionRepo.UpsertBatch(ctx, normalizeSubmissions(items, s.now()))
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("affected", affected).Msg("submissions seeded")
	return affected, nil
}

func (s *seedService) authorize(token string) error {
	if !s.enabled {
		return ErrSeedDisabled
	}
	expected := strings.TrimSpace(s.token)
	if expected == "" {
		return ErrSeedUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) != 1 {
		return ErrSeedUnauthorized
	}
	return nil
}

func normalizeAssessments(items []models.Assessment) []models.Assessment {
	for i := range items {
		items[i].Title = strings.TrimSpace(items[i].Title)
		if items[i].NumInterviewQuestions <= 0 {
			items[i].NumInterviewQuestions = defaultNumQuestions
		}
		items[i].Submissions = nil
	}
	return items
}

// normalizeSubmissions marks submissions with a complete repository binding as finalized.
func normalizeSubmissions(items []models.Submission, now time.Time) []models.Submission {
	for i := range items {
		repo := &items[i].GitHubRepo
		repo.Owner = strings.TrimSpace(repo.Owner)
		repo.Repo = strings.TrimSpace(repo.Repo)
		repo.PinnedCommitSHA = strings.ToLower(strings.TrimSpace(repo.PinnedCommitSHA))

		if repo.IsComplete() {
			items[i].Status = models.SubmissionStatusFinalized
			if items[i].FinalizedAt == nil {
				finalized := now
				items[i].FinalizedAt = &finalized
			}
		} else {
			items[i].Status = models.SubmissionStatusDraft
			items[i].FinalizedAt = nil
		}
	}
	return items
}
