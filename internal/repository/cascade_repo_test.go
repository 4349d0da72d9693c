package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/models"
)

func seedAssessment(t *testing.T, db *gorm.DB) (models.Assessment, []models.Submission) {
	t.Helper()
	assessment := models.Assessment{ID: 10, Title: "Backend", Description: "Build an API"}
	require.NoError(t, db.Omit("Submissions").Create(&assessment).Error)

	submissions := []models.Submission{
		{ID: 100, AssessmentID: 10, Status: models.SubmissionStatusFinalized},
		{ID: 101, AssessmentID: 10, Status: models.SubmissionStatusFinalized},
	}
	require.NoError(t, db.Omit("Assessment").Create(&submissions).Error)

	for _, submission := range submissions {
		require.NoError(t, db.Create(&models.RepoIndex{SubmissionID: submission.ID, PinnedCommitSHA: "abc1234", Status: models.RepoIndexStatusReady}).Error)
		require.NoError(t, db.Omit("Submission").Create(&models.InterviewQuestion{
			SubmissionID: submission.ID,
			Position:     1,
			Prompt:       "Why?",
			Anchors:      datatypes.NewJSONSlice([]models.CodeAnchor{{Path: "main.go", StartLine: 1, EndLine: 2}}),
			Kind:         models.InterviewQuestionKindInitial,
		}).Error)
	}
	return assessment, submissions
}

func TestCascadeDeleteAssessmentRemovesEverything(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewCascadeRepository(db)
	seedAssessment(t, db)

	var purged []string
	result, err := repo.DeleteAssessment(context.Background(), 10, func(_ context.Context, namespaces []string) error {
		purged = append(purged, namespaces...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint{100, 101}, result.SubmissionIDs)
	require.Equal(t, []string{"submission-100", "submission-101"}, purged)
	require.Equal(t, int64(2), result.Questions)
	require.Equal(t, int64(2), result.RepoIndexes)

	for _, model := range []interface{}{&models.Assessment{}, &models.Submission{}, &models.RepoIndex{}, &models.InterviewQuestion{}} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		require.Zero(t, count)
	}
}

func TestCascadeDeleteRollsBackWhenPurgeFails(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewCascadeRepository(db)
	seedAssessment(t, db)

	purgeErr := errors.New("vector store unavailable")
	_, err := repo.DeleteSubmission(context.Background(), 100, func(context.Context, []string) error {
		return purgeErr
	})
	require.ErrorIs(t, err, purgeErr)

	var indexes, questions, submissions int64
	require.NoError(t, db.Model(&models.RepoIndex{}).Where("submission_id = ?", 100).Count(&indexes).Error)
	require.NoError(t, db.Model(&models.InterviewQuestion{}).Where("submission_id = ?", 100).Count(&questions).Error)
	require.NoError(t, db.Model(&models.Submission{}).Where("id = ?", 100).Count(&submissions).Error)
	require.Equal(t, int64(1), indexes)
	require.Equal(t, int64(1), questions)
	require.Equal(t, int64(1), submissions)
}

func TestCascadeDeleteSubmissionLeavesSiblings(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewCascadeRepository(db)
	seedAssessment(t, db)

	result, err := repo.DeleteSubmission(context.Background(), 101, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"submission-101"}, result.Namespaces)

	var remaining []models.Submission
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, uint(100), remaining[0].ID)
}

func TestCascadeDeleteMissingSubmission(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewCascadeRepository(db)

	_, err := repo.DeleteSubmission(context.Background(), 999, nil)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestInterviewQuestionReplaceKeepsFollowUps(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewInterviewQuestionRepository(db)
	ctx := context.Background()

	_, err := repo.ReplaceInitial(ctx, 7, []models.InterviewQuestion{{Prompt: "first"}, {Prompt: "second"}})
	require.NoError(t, err)

	followUp := models.InterviewQuestion{SubmissionID: 7, Prompt: "follow", Kind: models.InterviewQuestionKindFollowUp}
	require.NoError(t, repo.Append(ctx, &followUp))
	require.Equal(t, 3, followUp.Position)

	stored, err := repo.ReplaceInitial(ctx, 7, []models.InterviewQuestion{{Prompt: "replacement"}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, 1, stored[0].Position)

	listed, err := repo.ListBySubmission(ctx, 7)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "replacement", listed[0].Prompt)
	require.Equal(t, "follow", listed[1].Prompt)
	require.Equal(t, models.InterviewQuestionKindFollowUp, listed[1].Kind)
}
