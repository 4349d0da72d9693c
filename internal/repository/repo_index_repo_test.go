package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/models"
)

func setupRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Assessment{}, &models.Submission{}, &models.RepoIndex{}, &models.InterviewQuestion{}))
	return db
}

func claimFor(submissionID uint, sha string) RepoIndexClaim {
	return RepoIndexClaim{
		SubmissionID:    submissionID,
		PinnedCommitSHA: sha,
		VectorIndex:     "code_vectors",
		Namespace:       fmt.Sprintf("submission-%d", submissionID),
	}
}

func TestRepoIndexClaimIsCompareAndSwap(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRepoIndexRepository(db)
	ctx := context.Background()

	pending, err := repo.EnsurePending(ctx, 1, "abc1234")
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusPending, pending.Status)

	claimed, err := repo.Claim(ctx, claimFor(1, "abc1234"))
	require.NoError(t, err)
	require.Equal(t, pending.ID, claimed.ID)
	require.Equal(t, models.RepoIndexStatusIndexing, claimed.Status)
	require.Equal(t, "submission-1", claimed.Namespace)
	require.NotNil(t, claimed.StartedAt)

	_, err = repo.Claim(ctx, claimFor(1, "abc1234"))
	require.ErrorIs(t, err, ErrRepoIndexBusy)

	stale := claimFor(1, "abc1234")
	stale.StaleBefore = time.Now().UTC().Add(time.Hour)
	takeover, err := repo.Claim(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusIndexing, takeover.Status)
}

func TestRepoIndexLifecycle(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRepoIndexRepository(db)
	ctx := context.Background()

	claimed, err := repo.Claim(ctx, claimFor(2, "abc1234"))
	require.NoError(t, err)

	ready, err := repo.MarkReady(ctx, claimed.ID, RepoIndexStats{FileCount: 1, ChunkCount: 2, TotalChars: 3000, FilesSkipped: 4})
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusReady, ready.Status)
	require.Equal(t, 2, ready.ChunkCount)
	require.Equal(t, 4, ready.FilesSkipped)
	require.NotNil(t, ready.CompletedAt)

	_, err = repo.MarkFailed(ctx, claimed.ID, "late failure")
	require.ErrorIs(t, err, ErrRepoIndexTransition)

	retriggered, err := repo.Claim(ctx, claimFor(2, "abc1234"))
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusIndexing, retriggered.Status)
	require.Zero(t, retriggered.ChunkCount)
	require.Nil(t, retriggered.CompletedAt)

	failed, err := repo.MarkFailed(ctx, claimed.ID, "download failed")
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusFailed, failed.Status)
	require.Equal(t, "download failed", failed.Error)

	again, err := repo.Claim(ctx, claimFor(2, "abc1234"))
	require.NoError(t, err)
	require.Empty(t, again.Error)
}

func TestRepoIndexNewCommitSupersedesOldRows(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRepoIndexRepository(db)
	ctx := context.Background()

	old, err := repo.Claim(ctx, claimFor(3, "aaaaaaa"))
	require.NoError(t, err)
	_, err = repo.MarkReady(ctx, old.ID, RepoIndexStats{FileCount: 1, ChunkCount: 1})
	require.NoError(t, err)

	current, err := repo.EnsurePending(ctx, 3, "bbbbbbb")
	require.NoError(t, err)

	_, err = repo.GetCurrent(ctx, 3, "aaaaaaa")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	found, err := repo.GetCurrent(ctx, 3, "bbbbbbb")
	require.NoError(t, err)
	require.Equal(t, current.ID, found.ID)

	latest, err := repo.Latest(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, current.ID, latest.ID)

	var count int64
	require.NoError(t, db.Model(&models.RepoIndex{}).Where("submission_id = ?", 3).Count(&count).Error)
	require.Equal(t, int64(2), count)

	revived, err := repo.EnsurePending(ctx, 3, "aaaaaaa")
	require.NoError(t, err)
	require.Equal(t, old.ID, revived.ID)
	require.Nil(t, revived.SupersededAt)
	require.Equal(t, models.RepoIndexStatusPending, revived.Status)
}

func TestRepoIndexRevivedCommitIsRebuilt(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRepoIndexRepository(db)
	ctx := context.Background()

	first, err := repo.Claim(ctx, claimFor(5, "aaaaaaa"))
	require.NoError(t, err)
	_, err = repo.MarkReady(ctx, first.ID, RepoIndexStats{FileCount: 2, ChunkCount: 6, TotalChars: 900})
	require.NoError(t, err)

	second, err := repo.Claim(ctx, claimFor(5, "bbbbbbb"))
	require.NoError(t, err)
	_, err = repo.MarkReady(ctx, second.ID, RepoIndexStats{FileCount: 3, ChunkCount: 9})
	require.NoError(t, err)

	// the shared namespace now holds the second commit's chunks
	revived, err := repo.EnsurePending(ctx, 5, "aaaaaaa")
	require.NoError(t, err)
	require.Equal(t, first.ID, revived.ID)
	require.Equal(t, models.RepoIndexStatusPending, revived.Status)
	require.Zero(t, revived.FileCount)
	require.Zero(t, revived.ChunkCount)
	require.Nil(t, revived.CompletedAt)
	require.Empty(t, revived.Error)

	current, err := repo.GetCurrent(ctx, 5, "aaaaaaa")
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusPending, current.Status)

	reclaimed, err := repo.Claim(ctx, claimFor(5, "aaaaaaa"))
	require.NoError(t, err)
	require.Equal(t, first.ID, reclaimed.ID)
	require.Equal(t, models.RepoIndexStatusIndexing, reclaimed.Status)
}

func TestRepoIndexEnsurePendingKeepsExistingRow(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRepoIndexRepository(db)
	ctx := context.Background()

	claimed, err := repo.Claim(ctx, claimFor(4, "abc1234"))
	require.NoError(t, err)

	existing, err := repo.EnsurePending(ctx, 4, "abc1234")
	require.NoError(t, err)
	require.Equal(t, claimed.ID, existing.ID)
	require.Equal(t, models.RepoIndexStatusIndexing, existing.Status)
}
