package service

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/repository"
	"github.com/noah-isme/codeprobe-api/pkg/chunker"
	"github.com/noah-isme/codeprobe-api/pkg/snapshot"
	"github.com/noah-isme/codeprobe-api/pkg/vectorstore"
)

const testCommit = "abc1234"

type archiveFile struct {
	name string
	body string
}

func buildArchive(t *testing.T, files []archiveFile) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, file := range files {
		header := &tar.Header{Name: file.name, Mode: 0o644, Size: int64(len(file.body)), Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(header))
		_, err := tw.Write([]byte(file.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// goSource returns a Go file with exactly lines lines.
func goSource(lines int) string {
	var b strings.Builder
	b.WriteString("package auth\n")
	for i := 2; i <= lines; i++ {
		fmt.Fprintf(&b, "// authentication check %d\n", i)
	}
	return b.String()
}

type pipelineFixture struct {
	db         *gorm.DB
	submission models.Submission
	store      *vectorstore.MemoryStore
	embedder   *keywordEmbedder
	events     *recordingEvents
	workspace  string
	downloads  atomic.Int32
	service    RepoIndexService
}

func newPipelineFixture(t *testing.T, archive []byte, status int) *pipelineFixture {
	t.Helper()

	fixture := &pipelineFixture{
		db:        setupServiceDB(t),
		store:     vectorstore.NewMemoryStore("codeprobe-test", testDimension),
		embedder:  newKeywordEmbedder(),
		events:    &recordingEvents{},
		workspace: t.TempDir(),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fixture.downloads.Add(1)
		if status != http.StatusOK {
			http.Error(w, "Not Found", status)
			return
		}
		w.Header().Set("Content-Type", "application/x-gzip")
		_, _ = w.Write(archive)
	}))
	t.Cleanup(server.Close)

	fetcher := snapshot.NewGitHubFetcher(snapshot.Config{
		APIURL:        server.URL,
		WorkspaceRoot: fixture.workspace,
		Logger:        testLogger(),
	})
	sourceChunker, err := chunker.New(chunker.Options{WindowLines: 200, OverlapLines: 40, Logger: testLogger()})
	require.NoError(t, err)

	assessment := seedAssessment(t, fixture.db, "Build a login flow")
	fixture.submission = seedFinalizedSubmission(t, fixture.db, assessment.ID, testCommit)

	fixture.service = NewRepoIndexService(
		repository.NewSubmissionRepository(fixture.db),
		repository.NewRepoIndexRepository(fixture.db),
		fetcher,
		sourceChunker,
		fixture.embedder,
		fixture.store,
		fixture.events,
		RepoIndexConfig{},
		testLogger(),
	)
	return fixture
}

func (f *pipelineFixture) workspaceEntries(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.workspace)
	require.NoError(t, err)
	return len(entries)
}

func TestIndexSubmissionBuildsNamespace(t *testing.T) {
	archive := buildArchive(t, []archiveFile{
		{name: "acme-widgets-abc1234/internal/auth/auth.go", body: goSource(350)},
		{name: "acme-widgets-abc1234/package-lock.json", body: "{}"},
	})
	fixture := newPipelineFixture(t, archive, http.StatusOK)
	ctx := context.Background()

	result, err := fixture.service.IndexSubmission(ctx, fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusReady, result.Status)
	require.Equal(t, 1, result.FileCount)
	require.Equal(t, 2, result.ChunkCount)
	require.Empty(t, result.Error)

	count, err := fixture.store.Count(ctx, vectorstore.NamespaceForSubmission(fixture.submission.ID))
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Zero(t, fixture.workspaceEntries(t))
	require.Equal(t, []string{RepoIndexEventStarted, RepoIndexEventReady}, fixture.events.types())

	status, err := fixture.service.Status(ctx, fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusReady, status.Status)
	require.NotNil(t, status.Stats)
	require.Equal(t, 2, status.Stats.ChunkCount)
	require.Equal(t, testCommit, status.PinnedCommitSHA)
}

func TestIndexSubmissionIsIdempotent(t *testing.T) {
	archive := buildArchive(t, []archiveFile{
		{name: "acme-widgets-abc1234/internal/auth/auth.go", body: goSource(350)},
	})
	fixture := newPipelineFixture(t, archive, http.StatusOK)
	ctx := context.Background()
	namespace := vectorstore.NamespaceForSubmission(fixture.submission.ID)

	first, err := fixture.service.IndexSubmission(ctx, fixture.submission.ID)
	require.NoError(t, err)
	second, err := fixture.service.IndexSubmission(ctx, fixture.submission.ID)
	require.NoError(t, err)

	require.Equal(t, first.ChunkCount, second.ChunkCount)
	count, err := fixture.store.Count(ctx, namespace)
	require.NoError(t, err)
	require.EqualValues(t, first.ChunkCount, count)
	require.EqualValues(t, 2, fixture.downloads.Load())
}

func TestIndexSubmissionFailsWithoutIndexableFiles(t *testing.T) {
	archive := buildArchive(t, []archiveFile{
		{name: "acme-widgets-abc1234/node_modules/lib/index.js", body: "module.exports = {}\n"},
		{name: "acme-widgets-abc1234/logo.png", body: "\x89PNG\r\n\x1a\n"},
	})
	fixture := newPipelineFixture(t, archive, http.StatusOK)

	result, err := fixture.service.IndexSubmission(context.Background(), fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusFailed, result.Status)
	require.Equal(t, "no indexable source files", result.Error)
	require.Zero(t, result.ChunkCount)
	require.Zero(t, fixture.workspaceEntries(t))
	require.Equal(t, []string{RepoIndexEventStarted, RepoIndexEventFailed}, fixture.events.types())
}

func TestIndexSubmissionRecordsFetchFailure(t *testing.T) {
	fixture := newPipelineFixture(t, nil, http.StatusNotFound)
	ctx := context.Background()

	result, err := fixture.service.IndexSubmission(ctx, fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusFailed, result.Status)
	require.True(t, strings.HasPrefix(result.Error, "fetch failed:"), result.Error)
	require.Zero(t, fixture.workspaceEntries(t))

	status, err := fixture.service.Status(ctx, fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusFailed, status.Status)
	require.Nil(t, status.Stats)
	require.Equal(t, result.Error, status.Error)
}

func TestIndexSubmissionRecordsEmbedFailure(t *testing.T) {
	archive := buildArchive(t, []archiveFile{
		{name: "acme-widgets-abc1234/main.go", body: goSource(20)},
	})
	fixture := newPipelineFixture(t, archive, http.StatusOK)
	fixture.embedder.err = errors.New("upstream 503")

	result, err := fixture.service.IndexSubmission(context.Background(), fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusFailed, result.Status)
	require.Equal(t, "embed failed: upstream 503", result.Error)
	require.Zero(t, fixture.workspaceEntries(t))

	count, err := fixture.store.Count(context.Background(), vectorstore.NamespaceForSubmission(fixture.submission.ID))
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestIndexSubmissionRetriesAfterFailure(t *testing.T) {
	archive := buildArchive(t, []archiveFile{
		{name: "acme-widgets-abc1234/main.go", body: goSource(20)},
	})
	fixture := newPipelineFixture(t, archive, http.StatusOK)
	fixture.embedder.err = errors.New("upstream 503")

	failed, err := fixture.service.IndexSubmission(context.Background(), fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusFailed, failed.Status)

	fixture.embedder.err = nil
	ready, err := fixture.service.IndexSubmission(context.Background(), fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusReady, ready.Status)
	require.Equal(t, 1, ready.ChunkCount)
}

func TestIndexSubmissionRejectsConcurrentRun(t *testing.T) {
	fixture := newPipelineFixture(t, nil, http.StatusOK)
	ctx := context.Background()

	_, err := repository.NewRepoIndexRepository(fixture.db).Claim(ctx, repository.RepoIndexClaim{
		SubmissionID:    fixture.submission.ID,
		PinnedCommitSHA: testCommit,
		VectorIndex:     fixture.store.IndexName(),
		Namespace:       vectorstore.NamespaceForSubmission(fixture.submission.ID),
	})
	require.NoError(t, err)

	_, err = fixture.service.IndexSubmission(ctx, fixture.submission.ID)
	require.ErrorIs(t, err, ErrIndexingInProgress)
	require.Zero(t, fixture.downloads.Load())

	status, err := fixture.service.Status(ctx, fixture.submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusIndexing, status.Status)
}

func TestIndexSubmissionPreconditions(t *testing.T) {
	fixture := newPipelineFixture(t, nil, http.StatusOK)
	ctx := context.Background()

	_, err := fixture.service.IndexSubmission(ctx, 9999)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	draft := models.Submission{AssessmentID: fixture.submission.AssessmentID, Status: models.SubmissionStatusDraft}
	require.NoError(t, fixture.db.Omit("Assessment").Create(&draft).Error)

	_, err = fixture.service.IndexSubmission(ctx, draft.ID)
	require.ErrorIs(t, err, ErrSubmissionNotFinalized)

	_, err = fixture.service.Status(ctx, draft.ID)
	require.ErrorIs(t, err, ErrNotIndexed)

	_, err = fixture.service.Status(ctx, fixture.submission.ID)
	require.ErrorIs(t, err, ErrNotIndexed)
	require.Zero(t, fixture.downloads.Load())
}

func TestFailureMessage(t *testing.T) {
	require.Equal(t, "no indexable source files", failureMessage(stageChunk, errNoIndexableFiles))
	require.Equal(t, "embed timed out", failureMessage(stageEmbed, fmt.Errorf("call: %w", context.DeadlineExceeded)))
	require.Equal(t, "upsert failed: boom", failureMessage(stageUpsert, errors.New("boom")))
}
