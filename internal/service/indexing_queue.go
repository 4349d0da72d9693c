package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/observability"
	"github.com/noah-isme/codeprobe-api/internal/repository"
)

// IndexingTopic carries indexing jobs between the HTTP layer and the workers.
const IndexingTopic = "repo-index.jobs"

// ErrQueueClosed indicates the queue no longer accepts jobs.
var ErrQueueClosed = errors.New("indexing queue closed")

// IndexingQueue accepts indexing jobs and runs them on a bounded worker pool.
type IndexingQueue interface {
	Enqueue(ctx context.Context, submissionID uint, commitSHA string) (models.RepoIndex, error)
	Start(ctx context.Context) error
	Close() error
}

type indexJob struct {
	SubmissionID    uint      `json:"submission_id"`
	PinnedCommitSHA string    `json:"pinned_commit_sha"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}

type indexingQueue struct {
	pubsub   *gochannel.GoChannel
	pipeline RepoIndexService
	indexes  repository.RepoIndexRepository
	workers  int
	logger   zerolog.Logger

	mu     sync.Mutex
	group  *errgroup.Group
	cancel context.CancelFunc
	closed bool
}

// NewIndexingQueue constructs an in-process queue backed by a watermill go channel.
func NewIndexingQueue(pipeline RepoIndexService, indexes repository.RepoIndexRepository, workers int, logger zerolog.Logger) IndexingQueue {
	if workers <= 0 {
		workers = 1
	}
	queueLogger := logger.With().Str("component", "indexing_queue").Logger()

	return &indexingQueue{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(workers * 4),
		}, newWatermillLogger(queueLogger)),
		pipeline: pipeline,
		indexes:  indexes,
		workers:  workers,
		logger:   queueLogger,
	}
}

// Enqueue records a pending row first so polling reflects the job immediately.
func (q *indexingQueue) Enqueue(ctx context.Context, submissionID uint, commitSHA string) (models.RepoIndex, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return models.RepoIndex{}, ErrQueueClosed
	}

	record, err := q.indexes.EnsurePending(ctx, submissionID, commitSHA)
	if err != nil {
		return models.RepoIndex{}, fmt.Errorf("ensure pending repo index: %w", err)
	}

	payload, err := json.Marshal(indexJob{
		SubmissionID:    submissionID,
		PinnedCommitSHA: commitSHA,
		CorrelationID:   observability.CorrelationID(ctx),
		EnqueuedAt:      time.Now().UTC(),
	})
	if err != nil {
		return models.RepoIndex{}, err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := q.pubsub.Publish(IndexingTopic, msg); err != nil {
		return models.RepoIndex{}, fmt.Errorf("publish indexing job: %w", err)
	}

	observability.IndexJobsInFlight().Inc()
	logger := observability.ContextLogger(ctx, q.logger)
	logger.Debug().Uint("submission_id", submissionID).Str("commit", commitSHA).Msg("indexing job queued")
	return record, nil
}

// Start subscribes the worker pool. Jobs published before Start are dropped by the go channel.
func (q *indexingQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.group != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	messages, err := q.pubsub.Subscribe(runCtx, IndexingTopic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe indexing topic: %w", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.SetLimit(q.workers + 1)
	q.group = group
	q.cancel = cancel

	// jobs keep running through Close so their rows never stay in indexing
	jobCtx := context.WithoutCancel(groupCtx)
	group.Go(func() error {
		for msg := range messages {
			msg := msg
			group.Go(func() error {
				q.handle(jobCtx, msg)
				return nil
			})
		}
		return nil
	})

	q.logger.Info().Int("workers", q.workers).Msg("indexing queue started")
	return nil
}

func (q *indexingQueue) handle(ctx context.Context, msg *message.Message) {
	defer observability.IndexJobsInFlight().Dec()

	var job indexJob
	err := json.Unmarshal(msg.Payload, &job)
	// the go channel delivers the next job only after an ack; failures live on the repo index row
	msg.Ack()
	if err != nil {
		q.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("invalid indexing job payload")
		return
	}

	ctx = observability.WithCorrelationID(ctx, job.CorrelationID)
	logger := observability.ContextLogger(ctx, q.logger).With().
		Uint("submission_id", job.SubmissionID).
		Str("commit", job.PinnedCommitSHA).
		Dur("queued_for", time.Since(job.EnqueuedAt)).
		Logger()
	result, err := q.pipeline.IndexSubmission(ctx, job.SubmissionID)
	switch {
	case err == nil:
		logger.Info().Str("status", result.Status).Int("chunk_count", result.ChunkCount).Msg("indexing job finished")
	case errors.Is(err, ErrIndexingInProgress):
		logger.Info().Msg("indexing job skipped, another run holds the index")
	default:
		logger.Error().Err(err).Msg("indexing job errored")
		q.failPending(ctx, job, err, logger)
	}
}

// failPending moves a row that never left pending into failed so the error is visible to pollers.
func (q *indexingQueue) failPending(ctx context.Context, job indexJob, cause error, logger zerolog.Logger) {
	record, err := q.indexes.GetCurrent(ctx, job.SubmissionID, job.PinnedCommitSHA)
	if err != nil || record.Status != models.RepoIndexStatusPending {
		return
	}

	claimed, err := q.indexes.Claim(ctx, repository.RepoIndexClaim{
		SubmissionID:    job.SubmissionID,
		PinnedCommitSHA: job.PinnedCommitSHA,
		VectorIndex:     record.VectorIndex,
		Namespace:       record.Namespace,
	})
	if err != nil {
		return
	}
	if _, err := q.indexes.MarkFailed(ctx, claimed.ID, cause.Error()); err != nil {
		logger.Warn().Err(err).Msg("failed to record indexing job error")
	}
}

// Close stops accepting jobs and waits for running ones to finish.
func (q *indexingQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	group := q.group
	cancel := q.cancel
	q.mu.Unlock()

	err := q.pubsub.Close()
	if cancel != nil {
		cancel()
	}
	if group != nil {
		if waitErr := group.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
			err = errors.Join(err, waitErr)
		}
	}
	return err
}

type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return watermillLogger{logger: logger}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{logger: l.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
