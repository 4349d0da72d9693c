package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/observability"
	"github.com/noah-isme/codeprobe-api/internal/repository"
	"github.com/noah-isme/codeprobe-api/pkg/chunker"
	"github.com/noah-isme/codeprobe-api/pkg/embedding"
	"github.com/noah-isme/codeprobe-api/pkg/snapshot"
	"github.com/noah-isme/codeprobe-api/pkg/vectorstore"
)

var (
	// ErrSubmissionNotFound indicates the submission cannot be located.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionNotFinalized indicates the submission has no pinned repository yet.
	ErrSubmissionNotFinalized = errors.New("submission is not finalized")
	// ErrNotIndexed indicates no index exists for the submission's pinned commit.
	ErrNotIndexed = errors.New("repository has not been indexed")
	// ErrIndexingInProgress indicates an indexing run is queued or running.
	ErrIndexingInProgress = errors.New("repository indexing is in progress")
	// ErrIndexFailed indicates the last indexing run failed.
	ErrIndexFailed = errors.New("repository indexing failed")
)

var errNoIndexableFiles = errors.New("no indexable source files")

// Pipeline stages, used in failure messages and metrics.
const (
	stageFetch  = "fetch"
	stageChunk  = "chunk"
	stageEmbed  = "embed"
	stageUpsert = "upsert"
)

// SourceChunker splits an extracted repository into line windows.
type SourceChunker interface {
	Chunk(root string) (chunker.Result, error)
}

// RepoIndexService runs the indexing pipeline and reports its state.
type RepoIndexService interface {
	IndexSubmission(ctx context.Context, submissionID uint) (dto.IndexRepoResponse, error)
	Status(ctx context.Context, submissionID uint) (dto.RepoIndexResponse, error)
}

// RepoIndexConfig bounds each remote step of the pipeline.
type RepoIndexConfig struct {
	FetchTimeout  time.Duration
	EmbedTimeout  time.Duration
	UpsertTimeout time.Duration
	// StaleAfter lets a new run take over an indexing row left behind by a crashed worker.
	StaleAfter time.Duration
}

type repoIndexService struct {
	submissions repository.SubmissionRepository
	indexes     repository.RepoIndexRepository
	fetcher     snapshot.Fetcher
	chunker     SourceChunker
	embedder    embedding.Embedder
	store       vectorstore.Store
	events      IndexEventPublisher
	config      RepoIndexConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewRepoIndexService constructs the indexing pipeline.
func NewRepoIndexService(
	submissions repository.SubmissionRepository,
	indexes repository.RepoIndexRepository,
	fetcher snapshot.Fetcher,
	sourceChunker SourceChunker,
	embedder embedding.Embedder,
	store vectorstore.Store,
	events IndexEventPublisher,
	cfg RepoIndexConfig,
	logger zerolog.Logger,
) RepoIndexService {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}

	return &repoIndexService{
		submissions: submissions,
		indexes:     indexes,
		fetcher:     fetcher,
		chunker:     sourceChunker,
		embedder:    embedder,
		store:       store,
		events:      events,
		config:      cfg,
		logger:      logger.With().Str("component", "repo_index_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/codeprobe-api/internal/service/repo_index"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// IndexSubmission runs the whole pipeline for the submission's pinned commit.
// Pipeline failures are recorded on the index row and reported in the response, not returned as errors.
func (s *repoIndexService) IndexSubmission(ctx context.Context, submissionID uint) (dto.IndexRepoResponse, error) {
	submission, err := s.loadFinalized(ctx, submissionID)
	if err != nil {
		return dto.IndexRepoResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "repo_index.run", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submission.ID)),
		attribute.String("repo.commit", submission.GitHubRepo.PinnedCommitSHA),
	))
	defer span.End()

	record, err := s.indexes.Claim(ctx, repository.RepoIndexClaim{
		SubmissionID:    submission.ID,
		PinnedCommitSHA: submission.GitHubRepo.PinnedCommitSHA,
		VectorIndex:     s.store.IndexName(),
		Namespace:       vectorstore.NamespaceForSubmission(submission.ID),
		StaleBefore:     s.now().Add(-s.config.StaleAfter),
	})
	if err != nil {
		if errors.Is(err, repository.ErrRepoIndexBusy) {
			return dto.IndexRepoResponse{}, ErrIndexingInProgress
		}
		span.RecordError(err)
		return dto.IndexRepoResponse{}, fmt.Errorf("claim repo index: %w", err)
	}

	logger := observability.ContextLogger(ctx, s.logger).With().
		Uint("submission_id", submission.ID).
		Str("commit", submission.GitHubRepo.PinnedCommitSHA).
		Logger()
	logger.Info().Msg("indexing started")
	s.events.Publish(ctx, RepoIndexEventStarted, record)

	started := time.Now()
	stats, stage, runErr := s.run(ctx, submission, record.Namespace, logger)

	// the row must leave indexing even when the caller has gone away
	finishCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, stage+"_failed")

		message := failureMessage(stage, runErr)
		failed, err := s.indexes.MarkFailed(finishCtx, record.ID, message)
		if err != nil {
			return dto.IndexRepoResponse{}, fmt.Errorf("mark repo index failed: %w", err)
		}

		observability.IndexRuns().WithLabelValues(models.RepoIndexStatusFailed, stage).Inc()
		observability.IndexDuration().WithLabelValues(models.RepoIndexStatusFailed).Observe(time.Since(started).Seconds())
		logger.Warn().Err(runErr).Str("stage", stage).Msg("indexing failed")
		s.events.Publish(finishCtx, RepoIndexEventFailed, failed)

		return dto.NewIndexRepoResponse(failed), nil
	}

	ready, err := s.indexes.MarkReady(finishCtx, record.ID, stats)
	if err != nil {
		return dto.IndexRepoResponse{}, fmt.Errorf("mark repo index ready: %w", err)
	}

	observability.IndexRuns().WithLabelValues(models.RepoIndexStatusReady, "").Inc()
	observability.IndexDuration().WithLabelValues(models.RepoIndexStatusReady).Observe(time.Since(started).Seconds())
	observability.IndexChunks().Add(float64(stats.ChunkCount))
	span.SetAttributes(
		attribute.Int("index.file_count", stats.FileCount),
		attribute.Int("index.chunk_count", stats.ChunkCount),
	)
	logger.Info().
		Int("file_count", stats.FileCount).
		Int("chunk_count", stats.ChunkCount).
		Int("files_skipped", stats.FilesSkipped).
		Dur("elapsed", time.Since(started)).
		Msg("indexing completed")
	s.events.Publish(finishCtx, RepoIndexEventReady, ready)

	return dto.NewIndexRepoResponse(ready), nil
}

// run executes fetch, chunk, embed and upsert in order and reports the stage that failed.
func (s *repoIndexService) run(ctx context.Context, submission models.Submission, namespace string, logger zerolog.Logger) (repository.RepoIndexStats, string, error) {
	repo := submission.GitHubRepo

	fetchCtx, cancelFetch := withTimeout(ctx, s.config.FetchTimeout)
	snap, err := s.fetcher.Fetch(fetchCtx, repo.Owner, repo.Repo, repo.PinnedCommitSHA, submission.ID)
	cancelFetch()
	if err != nil {
		return repository.RepoIndexStats{}, stageFetch, err
	}
	defer func() {
		if err := snap.Cleanup(); err != nil {
			logger.Warn().Err(err).Msg("failed to clean up snapshot")
		}
	}()

	result, err := s.chunker.Chunk(snap.RootPath)
	if err != nil {
		return repository.RepoIndexStats{}, stageChunk, err
	}
	if len(result.Chunks) == 0 {
		return repository.RepoIndexStats{}, stageChunk, errNoIndexableFiles
	}

	texts := make([]string, len(result.Chunks))
	for i, chunk := range result.Chunks {
		texts[i] = chunk.Content
	}

	embedCtx, cancelEmbed := withTimeout(ctx, s.config.EmbedTimeout)
	vectors, err := s.embedder.Embed(embedCtx, texts)
	cancelEmbed()
	if err != nil {
		return repository.RepoIndexStats{}, stageEmbed, err
	}
	if len(vectors) != len(result.Chunks) {
		return repository.RepoIndexStats{}, stageEmbed, fmt.Errorf("%w: got %d vectors for %d chunks", embedding.ErrIncompleteResponse, len(vectors), len(result.Chunks))
	}

	records := make([]vectorstore.Record, len(result.Chunks))
	for i, chunk := range result.Chunks {
		records[i] = vectorstore.Record{
			ID:        vectorstore.ChunkID(submission.ID, chunk.Path, chunk.StartLine, chunk.EndLine),
			Vector:    vectors[i],
			Path:      chunk.Path,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
			Content:   chunk.Content,
		}
	}

	upsertCtx, cancelUpsert := withTimeout(ctx, s.config.UpsertTimeout)
	defer cancelUpsert()
	// vectors from an earlier commit would otherwise survive in the namespace
	if err := s.store.DeleteNamespace(upsertCtx, namespace); err != nil {
		return repository.RepoIndexStats{}, stageUpsert, err
	}
	if err := s.store.Upsert(upsertCtx, namespace, records); err != nil {
		return repository.RepoIndexStats{}, stageUpsert, err
	}

	return repository.RepoIndexStats{
		FileCount:    result.FileCount,
		ChunkCount:   len(records),
		TotalChars:   result.TotalChars,
		FilesSkipped: result.FilesSkipped,
	}, "", nil
}

func (s *repoIndexService) Status(ctx context.Context, submissionID uint) (dto.RepoIndexResponse, error) {
	submission, err := s.loadFinalized(ctx, submissionID)
	if err != nil {
		if errors.Is(err, ErrSubmissionNotFinalized) {
			return dto.RepoIndexResponse{}, ErrNotIndexed
		}
		return dto.RepoIndexResponse{}, err
	}

	record, err := s.indexes.GetCurrent(ctx, submission.ID, submission.GitHubRepo.PinnedCommitSHA)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.RepoIndexResponse{}, ErrNotIndexed
		}
		return dto.RepoIndexResponse{}, err
	}

	return dto.NewRepoIndexResponse(record), nil
}

func (s *repoIndexService) loadFinalized(ctx context.Context, submissionID uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	if !submission.IsFinalized() {
		return models.Submission{}, ErrSubmissionNotFinalized
	}
	return submission, nil
}

func failureMessage(stage string, err error) string {
	switch {
	case errors.Is(err, errNoIndexableFiles):
		return errNoIndexableFiles.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s timed out", stage)
	default:
		return fmt.Sprintf("%s failed: %v", stage, err)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
