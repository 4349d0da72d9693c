package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/models"
)

// InterviewQuestionRepository stores generated interview questions.
type InterviewQuestionRepository interface {
	ReplaceInitial(ctx context.Context, submissionID uint, questions []models.InterviewQuestion) ([]models.InterviewQuestion, error)
	Append(ctx context.Context, question *models.InterviewQuestion) error
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.InterviewQuestion, error)
}

type interviewQuestionRepository struct {
	db *gorm.DB
}

// NewInterviewQuestionRepository instantiates the repository.
func NewInterviewQuestionRepository(db *gorm.DB) InterviewQuestionRepository {
	return &interviewQuestionRepository{db: db}
}

// ReplaceInitial swaps the generated question set of a submission in one transaction.
// Follow-up questions asked during the interview are kept.
func (r *interviewQuestionRepository) ReplaceInitial(ctx context.Context, submissionID uint, questions []models.InterviewQuestion) ([]models.InterviewQuestion, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ? AND kind = ?", submissionID, models.InterviewQuestionKindInitial).
			Delete(&models.InterviewQuestion{}).Error; err != nil {
			return err
		}
		if len(questions) == 0 {
			return nil
		}
		for i := range questions {
			questions[i].SubmissionID = submissionID
			questions[i].Kind = models.InterviewQuestionKindInitial
			questions[i].Position = i + 1
		}
		return tx.Omit("Submission").Create(&questions).Error
	})
	if err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *interviewQuestionRepository) Append(ctx context.Context, question *models.InterviewQuestion) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPosition int
		if err := tx.Model(&models.InterviewQuestion{}).
			Where("submission_id = ?", question.SubmissionID).
			Select("COALESCE(MAX(position), 0)").
			Scan(&maxPosition).Error; err != nil {
			return err
		}
		question.Position = maxPosition + 1
		return tx.Omit("Submission").Create(question).Error
	})
}

func (r *interviewQuestionRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.InterviewQuestion, error) {
	var questions []models.InterviewQuestion
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("position ASC, id ASC").
		Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}
