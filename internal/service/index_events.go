package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/models"
)

// Repo index lifecycle event types.
const (
	RepoIndexEventStarted = "repo_index.started"
	RepoIndexEventReady   = "repo_index.ready"
	RepoIndexEventFailed  = "repo_index.failed"
)

// RepoIndexEvent is broadcast whenever an indexing run changes state.
type RepoIndexEvent struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	SubmissionID    uint      `json:"submission_id"`
	PinnedCommitSHA string    `json:"pinned_commit_sha"`
	Status          string    `json:"status"`
	FileCount       int       `json:"file_count"`
	ChunkCount      int       `json:"chunk_count"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// IndexEventPublisher fans out repo index lifecycle events.
type IndexEventPublisher interface {
	Publish(ctx context.Context, eventType string, record models.RepoIndex)
	Subject() string
}

type natsIndexEvents struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewIndexEventPublisher publishes on "<channelBase>.repo_index". A nil connection disables publishing.
func NewIndexEventPublisher(conn *nats.Conn, channelBase string, logger zerolog.Logger) IndexEventPublisher {
	subject := ""
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".repo_index"
	}

	return &natsIndexEvents{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "repo_index_events").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *natsIndexEvents) Subject() string {
	return p.subject
}

func (p *natsIndexEvents) Publish(_ context.Context, eventType string, record models.RepoIndex) {
	if p.conn == nil || p.subject == "" {
		return
	}

	payload, err := json.Marshal(newRepoIndexEvent(eventType, record, p.now()))
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode repo index event")
		return
	}

	if err := p.conn.Publish(p.subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("type", eventType).Uint("submission_id", record.SubmissionID).Msg("failed to publish repo index event")
	}
}

func newRepoIndexEvent(eventType string, record models.RepoIndex, now time.Time) RepoIndexEvent {
	event := RepoIndexEvent{
		ID:              uuid.NewString(),
		Type:            eventType,
		SubmissionID:    record.SubmissionID,
		PinnedCommitSHA: record.PinnedCommitSHA,
		Status:          record.Status,
		FileCount:       record.FileCount,
		ChunkCount:      record.ChunkCount,
		OccurredAt:      now,
	}
	if record.Status == models.RepoIndexStatusFailed {
		event.Error = record.Error
	}
	return event
}
