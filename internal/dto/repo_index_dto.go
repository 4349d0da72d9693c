package dto

import (
	"time"

	"github.com/noah-isme/codeprobe-api/internal/models"
)

// RepoIndexStatsResponse is only present once indexing succeeded.
type RepoIndexStatsResponse struct {
	FileCount    int   `json:"file_count"`
	ChunkCount   int   `json:"chunk_count"`
	TotalChars   int64 `json:"total_chars"`
	FilesSkipped int   `json:"files_skipped"`
}

// VectorBindingResponse names where the submission's vectors live.
type VectorBindingResponse struct {
	IndexName string `json:"index_name"`
	Namespace string `json:"namespace"`
}

// RepoIndexResponse is the polling payload for indexing progress.
type RepoIndexResponse struct {
	SubmissionID    uint                    `json:"submission_id"`
	PinnedCommitSHA string                  `json:"pinned_commit_sha"`
	Status          string                  `json:"status"`
	Stats           *RepoIndexStatsResponse `json:"stats"`
	Vector          *VectorBindingResponse  `json:"vector,omitempty"`
	Error           string                  `json:"error,omitempty"`
	StartedAt       *time.Time              `json:"started_at"`
	CompletedAt     *time.Time              `json:"completed_at"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// IndexRepoResponse summarises a synchronous indexing run.
type IndexRepoResponse struct {
	Status     string `json:"status"`
	FileCount  int    `json:"file_count"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// NewRepoIndexResponse converts a RepoIndex model into a DTO.
func NewRepoIndexResponse(model models.RepoIndex) RepoIndexResponse {
	response := RepoIndexResponse{
		SubmissionID:    model.SubmissionID,
		PinnedCommitSHA: model.PinnedCommitSHA,
		Status:          model.Status,
		StartedAt:       model.StartedAt,
		CompletedAt:     model.CompletedAt,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}

	if model.Status == models.RepoIndexStatusReady {
		response.Stats = &RepoIndexStatsResponse{
			FileCount:    model.FileCount,
			ChunkCount:   model.ChunkCount,
			TotalChars:   model.TotalChars,
			FilesSkipped: model.FilesSkipped,
		}
	}
	if model.Namespace != "" {
		response.Vector = &VectorBindingResponse{IndexName: model.VectorIndex, Namespace: model.Namespace}
	}
	if model.Status == models.RepoIndexStatusFailed {
		response.Error = model.Error
	}

	return response
}

// NewIndexRepoResponse converts the outcome of a run into the trigger payload.
func NewIndexRepoResponse(model models.RepoIndex) IndexRepoResponse {
	response := IndexRepoResponse{
		Status:     model.Status,
		FileCount:  model.FileCount,
		ChunkCount: model.ChunkCount,
	}
	if model.Status == models.RepoIndexStatusFailed {
		response.Error = model.Error
	}
	return response
}
