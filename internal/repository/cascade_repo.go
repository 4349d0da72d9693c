package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/pkg/vectorstore"
)

// NamespacePurger removes vector namespaces while the cascade transaction is still open.
type NamespacePurger func(ctx context.Context, namespaces []string) error

// CascadeResult summarises what a cascade delete removed.
type CascadeResult struct {
	SubmissionIDs []uint
	Namespaces    []string
	Questions     int64
	RepoIndexes   int64
}

// CascadeRepository deletes submissions and assessments together with everything they own.
type CascadeRepository interface {
	DeleteSubmission(ctx context.Context, submissionID uint, purge NamespacePurger) (CascadeResult, error)
	DeleteAssessment(ctx context.Context, assessmentID uint, purge NamespacePurger) (CascadeResult, error)
}

type cascadeRepository struct {
	db *gorm.DB
}

// NewCascadeRepository instantiates the repository.
func NewCascadeRepository(db *gorm.DB) CascadeRepository {
	return &cascadeRepository{db: db}
}

func (r *cascadeRepository) DeleteSubmission(ctx context.Context, submissionID uint, purge NamespacePurger) (CascadeResult, error) {
	var result CascadeResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var submission models.Submission
		if err := tx.Select("id").First(&submission, submissionID).Error; err != nil {
			return err
		}

		owned, err := r.deleteOwned(ctx, tx, []uint{submissionID}, purge)
		if err != nil {
			return err
		}
		result = owned

		return tx.Delete(&models.Submission{}, submissionID).Error
	})
	return result, err
}

func (r *cascadeRepository) DeleteAssessment(ctx context.Context, assessmentID uint, purge NamespacePurger) (CascadeResult, error) {
	var result CascadeResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assessment models.Assessment
		if err := tx.Select("id").First(&assessment, assessmentID).Error; err != nil {
			return err
		}

		var submissionIDs []uint
		if err := tx.Model(&models.Submission{}).
			Where("assessment_id = ?", assessmentID).
			Order("id ASC").
			Pluck("id", &submissionIDs).Error; err != nil {
			return err
		}

		owned, err := r.deleteOwned(ctx, tx, submissionIDs, purge)
		if err != nil {
			return err
		}
		result = owned

		if len(submissionIDs) > 0 {
			if err := tx.Where("id IN ?", submissionIDs).Delete(&models.Submission{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Assessment{}, assessmentID).Error
	})
	return result, err
}

// deleteOwned removes questions and repo index rows, then purges namespaces.
// A purge failure rolls the whole transaction back.
func (r *cascadeRepository) deleteOwned(ctx context.Context, tx *gorm.DB, submissionIDs []uint, purge NamespacePurger) (CascadeResult, error) {
	result := CascadeResult{SubmissionIDs: submissionIDs}
	if len(submissionIDs) == 0 {
		return result, nil
	}

	questions := tx.Where("submission_id IN ?", submissionIDs).Delete(&models.InterviewQuestion{})
	if questions.Error != nil {
		return CascadeResult{}, questions.Error
	}
	result.Questions = questions.RowsAffected

	indexes := tx.Where("submission_id IN ?", submissionIDs).Delete(&models.RepoIndex{})
	if indexes.Error != nil {
		return CascadeResult{}, indexes.Error
	}
	result.RepoIndexes = indexes.RowsAffected

	// namespaces are derived from the submission, so purge even when no row was ever written
	seen := make(map[string]struct{}, len(submissionIDs))
	for _, id := range submissionIDs {
		ns := vectorstore.NamespaceForSubmission(id)
		if _, ok := seen[ns]; ok {
			continue
		}
		seen[ns] = struct{}{}
		result.Namespaces = append(result.Namespaces, ns)
	}

	if purge != nil {
		if err := purge(ctx, result.Namespaces); err != nil {
			return CascadeResult{}, err
		}
	}
	return result, nil
}
