package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/observability"
	"github.com/noah-isme/codeprobe-api/internal/repository"
)

type stubPipeline struct {
	mu           sync.Mutex
	calls        []uint
	correlations []string
	err          error
}

func (p *stubPipeline) IndexSubmission(ctx context.Context, submissionID uint) (dto.IndexRepoResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, submissionID)
	p.correlations = append(p.correlations, observability.CorrelationID(ctx))
	if p.err != nil {
		return dto.IndexRepoResponse{}, p.err
	}
	return dto.IndexRepoResponse{Status: models.RepoIndexStatusReady, FileCount: 1, ChunkCount: 1}, nil
}

func (p *stubPipeline) Status(context.Context, uint) (dto.RepoIndexResponse, error) {
	return dto.RepoIndexResponse{}, nil
}

func (p *stubPipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestIndexingQueueRunsEnqueuedJobs(t *testing.T) {
	db := setupServiceDB(t)
	assessment := seedAssessment(t, db, "Build a login flow")
	submission := seedFinalizedSubmission(t, db, assessment.ID, testCommit)
	pipeline := &stubPipeline{}

	queue := NewIndexingQueue(pipeline, repository.NewRepoIndexRepository(db), 2, testLogger())
	require.NoError(t, queue.Start(context.Background()))
	defer queue.Close()

	ctx := observability.WithCorrelationID(context.Background(), "req-42")
	record, err := queue.Enqueue(ctx, submission.ID, testCommit)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusPending, record.Status)
	require.Equal(t, testCommit, record.PinnedCommitSHA)

	require.Eventually(t, func() bool {
		return pipeline.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	require.Equal(t, []string{"req-42"}, pipeline.correlations)
}

// gatedPipeline holds every run until release is closed and tracks how many run at once.
type gatedPipeline struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
	done    atomic.Int32
	ctxErrs atomic.Int32
}

func (p *gatedPipeline) IndexSubmission(ctx context.Context, _ uint) (dto.IndexRepoResponse, error) {
	current := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if current <= peak || p.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	<-p.release
	if ctx.Err() != nil {
		p.ctxErrs.Add(1)
	}
	p.running.Add(-1)
	p.done.Add(1)
	return dto.IndexRepoResponse{Status: models.RepoIndexStatusReady}, nil
}

func (p *gatedPipeline) Status(context.Context, uint) (dto.RepoIndexResponse, error) {
	return dto.RepoIndexResponse{}, nil
}

func TestIndexingQueueRunsJobsInParallel(t *testing.T) {
	db := setupServiceDB(t)
	assessment := seedAssessment(t, db, "Build a login flow")
	pipeline := &gatedPipeline{release: make(chan struct{})}

	queue := NewIndexingQueue(pipeline, repository.NewRepoIndexRepository(db), 4, testLogger())
	require.NoError(t, queue.Start(context.Background()))
	defer queue.Close()

	for i := 0; i < 3; i++ {
		submission := seedFinalizedSubmission(t, db, assessment.ID, testCommit)
		_, err := queue.Enqueue(context.Background(), submission.ID, testCommit)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return pipeline.running.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	close(pipeline.release)
	require.Eventually(t, func() bool {
		return pipeline.done.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(3), pipeline.peak.Load())
}

func TestIndexingQueueCloseLetsRunningJobsFinish(t *testing.T) {
	db := setupServiceDB(t)
	assessment := seedAssessment(t, db, "Build a login flow")
	submission := seedFinalizedSubmission(t, db, assessment.ID, testCommit)
	pipeline := &gatedPipeline{release: make(chan struct{})}

	startCtx, cancelStart := context.WithCancel(context.Background())
	queue := NewIndexingQueue(pipeline, repository.NewRepoIndexRepository(db), 1, testLogger())
	require.NoError(t, queue.Start(startCtx))

	_, err := queue.Enqueue(context.Background(), submission.ID, testCommit)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return pipeline.running.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancelStart()
	closed := make(chan error, 1)
	go func() { closed <- queue.Close() }()

	select {
	case <-closed:
		t.Fatal("close returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(pipeline.release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return after the job finished")
	}
	require.Equal(t, int32(1), pipeline.done.Load())
	require.Zero(t, pipeline.ctxErrs.Load())
}

func TestIndexingQueueFailsPendingRowOnError(t *testing.T) {
	db := setupServiceDB(t)
	assessment := seedAssessment(t, db, "Build a login flow")
	submission := seedFinalizedSubmission(t, db, assessment.ID, testCommit)
	indexes := repository.NewRepoIndexRepository(db)
	pipeline := &stubPipeline{err: errors.New("database unavailable")}

	queue := NewIndexingQueue(pipeline, indexes, 1, testLogger())
	require.NoError(t, queue.Start(context.Background()))
	defer queue.Close()

	_, err := queue.Enqueue(context.Background(), submission.ID, testCommit)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, err := indexes.GetCurrent(context.Background(), submission.ID, testCommit)
		return err == nil && record.Status == models.RepoIndexStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	record, err := indexes.GetCurrent(context.Background(), submission.ID, testCommit)
	require.NoError(t, err)
	require.Equal(t, "database unavailable", record.Error)
}

func TestIndexingQueueLeavesBusyRowAlone(t *testing.T) {
	db := setupServiceDB(t)
	assessment := seedAssessment(t, db, "Build a login flow")
	submission := seedFinalizedSubmission(t, db, assessment.ID, testCommit)
	indexes := repository.NewRepoIndexRepository(db)
	pipeline := &stubPipeline{err: ErrIndexingInProgress}

	queue := NewIndexingQueue(pipeline, indexes, 1, testLogger())
	require.NoError(t, queue.Start(context.Background()))
	defer queue.Close()

	_, err := queue.Enqueue(context.Background(), submission.ID, testCommit)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return pipeline.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	record, err := indexes.GetCurrent(context.Background(), submission.ID, testCommit)
	require.NoError(t, err)
	require.Equal(t, models.RepoIndexStatusPending, record.Status)
}

func TestIndexingQueueRejectsJobsAfterClose(t *testing.T) {
	db := setupServiceDB(t)
	queue := NewIndexingQueue(&stubPipeline{}, repository.NewRepoIndexRepository(db), 1, testLogger())
	require.NoError(t, queue.Start(context.Background()))

	require.NoError(t, queue.Close())
	require.NoError(t, queue.Close())

	_, err := queue.Enqueue(context.Background(), 1, testCommit)
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, queue.Start(context.Background()), ErrQueueClosed)
}
