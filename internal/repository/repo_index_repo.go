package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/codeprobe-api/internal/models"
)

var (
	// ErrRepoIndexBusy indicates another run holds the row in a non-claimable state.
	ErrRepoIndexBusy = errors.New("repo index is busy")
	// ErrRepoIndexTransition indicates the row was not in the expected state.
	ErrRepoIndexTransition = errors.New("repo index transition rejected")
)

// RepoIndexClaim describes the run that wants to own a repo index row.
type RepoIndexClaim struct {
	SubmissionID    uint
	PinnedCommitSHA string
	VectorIndex     string
	Namespace       string
	// StaleBefore lets a run take over an indexing row started before this instant.
	StaleBefore time.Time
}

// RepoIndexStats are recorded when a run succeeds.
type RepoIndexStats struct {
	FileCount    int
	ChunkCount   int
	TotalChars   int64
	FilesSkipped int
}

// RepoIndexRepository persists indexing lifecycle records.
type RepoIndexRepository interface {
	EnsurePending(ctx context.Context, submissionID uint, commitSHA string) (models.RepoIndex, error)
	Claim(ctx context.Context, claim RepoIndexClaim) (models.RepoIndex, error)
	MarkReady(ctx context.Context, id uint, stats RepoIndexStats) (models.RepoIndex, error)
	MarkFailed(ctx context.Context, id uint, message string) (models.RepoIndex, error)
	GetCurrent(ctx context.Context, submissionID uint, commitSHA string) (models.RepoIndex, error)
	Latest(ctx context.Context, submissionID uint) (models.RepoIndex, error)
}

type repoIndexRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepoIndexRepository instantiates the repository.
func NewRepoIndexRepository(db *gorm.DB) RepoIndexRepository {
	return &repoIndexRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsurePending creates a pending row for the commit if none exists and supersedes rows for older commits.
func (r *repoIndexRepository) EnsurePending(ctx context.Context, submissionID uint, commitSHA string) (models.RepoIndex, error) {
	var record models.RepoIndex
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.supersede(tx, submissionID, commitSHA); err != nil {
			return err
		}
		found, err := r.findOrCreate(tx, submissionID, commitSHA)
		if err != nil {
			return err
		}
		record = found
		return nil
	})
	return record, err
}

// Claim moves the row to indexing with a compare-and-swap on its current status.
func (r *repoIndexRepository) Claim(ctx context.Context, claim RepoIndexClaim) (models.RepoIndex, error) {
	var record models.RepoIndex
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.supersede(tx, claim.SubmissionID, claim.PinnedCommitSHA); err != nil {
			return err
		}
		found, err := r.findOrCreate(tx, claim.SubmissionID, claim.PinnedCommitSHA)
		if err != nil {
			return err
		}

		now := r.now()
		update := tx.Model(&models.RepoIndex{}).
			Where("id = ?", found.ID).
			Where(tx.Where("status IN ?", models.ClaimableRepoIndexStatuses()).
				Or("status = ? AND started_at < ?", models.RepoIndexStatusIndexing, claim.StaleBefore)).
			Updates(map[string]interface{}{
				"status":        models.RepoIndexStatusIndexing,
				"vector_index":  claim.VectorIndex,
				"namespace":     claim.Namespace,
				"error":         "",
				"file_count":    0,
				"chunk_count":   0,
				"total_chars":   0,
				"files_skipped": 0,
				"started_at":    now,
				"completed_at":  nil,
				"superseded_at": nil,
				"updated_at":    now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return ErrRepoIndexBusy
		}

		return tx.First(&record, found.ID).Error
	})
	return record, err
}

func (r *repoIndexRepository) MarkReady(ctx context.Context, id uint, stats RepoIndexStats) (models.RepoIndex, error) {
	now := r.now()
	return r.finish(ctx, id, models.RepoIndexStatusReady, map[string]interface{}{
		"status":        models.RepoIndexStatusReady,
		"file_count":    stats.FileCount,
		"chunk_count":   stats.ChunkCount,
		"total_chars":   stats.TotalChars,
		"files_skipped": stats.FilesSkipped,
		"error":         "",
		"completed_at":  now,
		"updated_at":    now,
	})
}

func (r *repoIndexRepository) MarkFailed(ctx context.Context, id uint, message string) (models.RepoIndex, error) {
	now := r.now()
	return r.finish(ctx, id, models.RepoIndexStatusFailed, map[string]interface{}{
		"status":        models.RepoIndexStatusFailed,
		"file_count":    0,
		"chunk_count":   0,
		"total_chars":   0,
		"files_skipped": 0,
		"error":         message,
		"completed_at":  now,
		"updated_at":    now,
	})
}

func (r *repoIndexRepository) finish(ctx context.Context, id uint, to string, updates map[string]interface{}) (models.RepoIndex, error) {
	if !models.CanTransitionRepoIndex(models.RepoIndexStatusIndexing, to) {
		return models.RepoIndex{}, ErrRepoIndexTransition
	}

	update := r.db.WithContext(ctx).Model(&models.RepoIndex{}).
		Where("id = ?", id).
		Where("status = ?", models.RepoIndexStatusIndexing).
		Updates(updates)
	if update.Error != nil {
		return models.RepoIndex{}, update.Error
	}
	if update.RowsAffected == 0 {
		return models.RepoIndex{}, ErrRepoIndexTransition
	}

	var record models.RepoIndex
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return models.RepoIndex{}, err
	}
	return record, nil
}

func (r *repoIndexRepository) GetCurrent(ctx context.Context, submissionID uint, commitSHA string) (models.RepoIndex, error) {
	var record models.RepoIndex
	if err := r.db.WithContext(ctx).
		Where("submission_id = ? AND pinned_commit_sha = ?", submissionID, commitSHA).
		Where("superseded_at IS NULL").
		First(&record).Error; err != nil {
		return models.RepoIndex{}, err
	}
	return record, nil
}

func (r *repoIndexRepository) Latest(ctx context.Context, submissionID uint) (models.RepoIndex, error) {
	var record models.RepoIndex
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("superseded_at IS NOT NULL, updated_at DESC, id DESC").
		First(&record).Error; err != nil {
		return models.RepoIndex{}, err
	}
	return record, nil
}

func (r *repoIndexRepository) supersede(tx *gorm.DB, submissionID uint, commitSHA string) error {
	return tx.Model(&models.RepoIndex{}).
		Where("submission_id = ? AND pinned_commit_sha <> ?", submissionID, commitSHA).
		Where("superseded_at IS NULL").
		Update("superseded_at", r.now()).Error
}

func (r *repoIndexRepository) findOrCreate(tx *gorm.DB, submissionID uint, commitSHA string) (models.RepoIndex, error) {
	candidate := models.RepoIndex{
		SubmissionID:    submissionID,
		PinnedCommitSHA: commitSHA,
		Status:          models.RepoIndexStatusPending,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		return models.RepoIndex{}, err
	}

	var record models.RepoIndex
	if err := tx.Where("submission_id = ? AND pinned_commit_sha = ?", submissionID, commitSHA).First(&record).Error; err != nil {
		return models.RepoIndex{}, err
	}
	// the namespace is shared across commits, so a revived row must be rebuilt before it serves anything
	if record.SupersededAt != nil {
		if err := tx.Model(&models.RepoIndex{}).Where("id = ?", record.ID).Updates(map[string]interface{}{
			"status":        models.RepoIndexStatusPending,
			"error":         "",
			"file_count":    0,
			"chunk_count":   0,
			"total_chars":   0,
			"files_skipped": 0,
			"started_at":    nil,
			"completed_at":  nil,
			"superseded_at": nil,
			"updated_at":    r.now(),
		}).Error; err != nil {
			return models.RepoIndex{}, err
		}
		if err := tx.First(&record, record.ID).Error; err != nil {
			return models.RepoIndex{}, err
		}
	}
	return record, nil
}
