package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/repository"
	"github.com/noah-isme/codeprobe-api/pkg/vectorstore"
)

const testDimension = 16

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	// queue workers write from their own goroutines; one connection keeps sqlite from reporting locked tables
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Assessment{}, &models.Submission{}, &models.RepoIndex{}, &models.InterviewQuestion{}))
	return db
}

func seedAssessment(t *testing.T, db *gorm.DB, description string) models.Assessment {
	t.Helper()

	assessment := models.Assessment{
		Title:                 "Backend take-home",
		Description:           description,
		NumInterviewQuestions: 3,
	}
	require.NoError(t, db.Omit("Submissions").Create(&assessment).Error)
	return assessment
}

func seedFinalizedSubmission(t *testing.T, db *gorm.DB, assessmentID uint, commit string) models.Submission {
	t.Helper()

	now := time.Now().UTC()
	submission := models.Submission{
		AssessmentID:   assessmentID,
		CandidateEmail: "candidate@example.com",
		Status:         models.SubmissionStatusFinalized,
		GitHubRepo:     models.GitHubRepo{Owner: "acme", Repo: "widgets", PinnedCommitSHA: commit},
		FinalizedAt:    &now,
	}
	require.NoError(t, db.Omit("Assessment").Create(&submission).Error)
	return submission
}

// markIndexReady drives a row through indexing to ready and fills the namespace.
func markIndexReady(t *testing.T, db *gorm.DB, store vectorstore.Store, embedder *keywordEmbedder, submission models.Submission, records []vectorstore.Record) models.RepoIndex {
	t.Helper()
	ctx := context.Background()
	indexes := repository.NewRepoIndexRepository(db)

	namespace := vectorstore.NamespaceForSubmission(submission.ID)
	claimed, err := indexes.Claim(ctx, repository.RepoIndexClaim{
		SubmissionID:    submission.ID,
		PinnedCommitSHA: submission.GitHubRepo.PinnedCommitSHA,
		VectorIndex:     store.IndexName(),
		Namespace:       namespace,
	})
	require.NoError(t, err)

	if len(records) > 0 {
		texts := make([]string, len(records))
		for i := range records {
			texts[i] = records[i].Content
		}
		vectors, err := embedder.Embed(ctx, texts)
		require.NoError(t, err)
		for i := range records {
			records[i].ID = vectorstore.ChunkID(submission.ID, records[i].Path, records[i].StartLine, records[i].EndLine)
			records[i].Vector = vectors[i]
		}
		require.NoError(t, store.Upsert(ctx, namespace, records))
	}

	ready, err := indexes.MarkReady(ctx, claimed.ID, repository.RepoIndexStats{FileCount: 1, ChunkCount: len(records)})
	require.NoError(t, err)
	return ready
}

// keywordEmbedder hashes words into buckets so texts sharing words score higher.
type keywordEmbedder struct {
	dim   int
	err   error
	calls atomic.Int32
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{dim: testDimension}
}

func (e *keywordEmbedder) Dimension() int {
	return e.dim
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, e.dim)
		vector[0] = 0.01
		for _, word := range strings.Fields(strings.ToLower(text)) {
			hash := fnv.New32a()
			_, _ = hash.Write([]byte(word))
			vector[hash.Sum32()%uint32(e.dim)]++
		}
		vectors[i] = vector
	}
	return vectors, nil
}

type recordedEvent struct {
	eventType string
	status    string
}

type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEvents) Publish(_ context.Context, eventType string, record models.RepoIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType: eventType, status: record.Status})
}

func (r *recordingEvents) Subject() string {
	return "test.repo_index"
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.eventType)
	}
	return types
}
