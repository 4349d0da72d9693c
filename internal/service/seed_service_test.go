package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/repository"
)

func newSeedService(t *testing.T, enabled bool, token string) (SeedService, repository.AssessmentRepository, repository.SubmissionRepository) {
	t.Helper()
	db := setupServiceDB(t)
	assessments := repository.NewAssessmentRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	return NewSeedService(assessments, submissions, enabled, token, testLogger()), assessments, submissions
}

func TestSeedServiceTokenGuard(t *testing.T) {
	svc, _, _ := newSeedService(t, true, "secret")

	_, err := svc.SeedAssessments(context.Background(), "wrong", []models.Assessment{{Title: "Test"}})
	require.ErrorIs(t, err, ErrSeedUnauthorized)

	affected, err := svc.SeedAssessments(context.Background(), " secret ", []models.Assessment{{Title: "Test"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)
}

func TestSeedServiceDisabled(t *testing.T) {
	svc, _, _ := newSeedService(t, false, "secret")

	_, err := svc.SeedSubmissions(context.Background(), "secret", []models.Submission{{AssessmentID: 1}})
	require.ErrorIs(t, err, ErrSeedDisabled)
}

func TestSeedServiceRejectsEmptyConfiguredToken(t *testing.T) {
	svc, _, _ := newSeedService(t, true, "")

	_, err := svc.SeedAssessments(context.Background(), "", []models.Assessment{{Title: "Test"}})
	require.ErrorIs(t, err, ErrSeedUnauthorized)
}

func TestSeedServiceNormalizesRecords(t *testing.T) {
	svc, assessments, submissions := newSeedService(t, true, "secret")
	ctx := context.Background()

	_, err := svc.SeedAssessments(ctx, "secret", []models.Assessment{{ID: 7, Title: "  Payments API  ", Description: "Build refunds"}})
	require.NoError(t, err)

	assessment, err := assessments.GetByID(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Payments API", assessment.Title)
	require.Equal(t, 5, assessment.NumInterviewQuestions)

	affected, err := svc.SeedSubmissions(ctx, "secret", []models.Submission{
		{ID: 11, AssessmentID: 7, GitHubRepo: models.GitHubRepo{Owner: "acme", Repo: "widgets", PinnedCommitSHA: " ABC1234 "}},
		{ID: 12, AssessmentID: 7, Status: models.SubmissionStatusFinalized, GitHubRepo: models.GitHubRepo{Owner: "acme"}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), affected)

	finalized, err := submissions.GetByID(ctx, 11)
	require.NoError(t, err)
	require.True(t, finalized.IsFinalized())
	require.Equal(t, "abc1234", finalized.GitHubRepo.PinnedCommitSHA)
	require.NotNil(t, finalized.FinalizedAt)
	require.Equal(t, "Payments API", finalized.Assessment.Title)

	draft, err := submissions.GetByID(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusDraft, draft.Status)
	require.Nil(t, draft.FinalizedAt)
}
