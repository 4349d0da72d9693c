package dto

import (
	"time"

	"github.com/noah-isme/codeprobe-api/internal/models"
)

// FinalizeSubmissionRequest binds a submission to an exact GitHub commit.
type FinalizeSubmissionRequest struct {
	Owner           string `json:"owner" validate:"required,max=100"`
	Repo            string `json:"repo" validate:"required,max=100"`
	PinnedCommitSHA string `json:"pinned_commit_sha" validate:"required,hexadecimal,min=7,max=40"`
}

// GitHubRepoResponse describes the repository a submission points at.
type GitHubRepoResponse struct {
	Owner           string `json:"owner"`
	Repo            string `json:"repo"`
	PinnedCommitSHA string `json:"pinned_commit_sha"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID             uint               `json:"id"`
	AssessmentID   uint               `json:"assessment_id"`
	CandidateEmail string             `json:"candidate_email"`
	Status         string             `json:"status"`
	GitHubRepo     GitHubRepoResponse `json:"github_repo"`
	FinalizedAt    *time.Time         `json:"finalized_at"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// FinalizeSubmissionResponse pairs the finalized submission with its queued index.
type FinalizeSubmissionResponse struct {
	Submission SubmissionResponse `json:"submission"`
	RepoIndex  RepoIndexResponse  `json:"repo_index"`
}

// CascadeDeleteResponse reports what a delete removed.
type CascadeDeleteResponse struct {
	SubmissionIDs []uint   `json:"submission_ids"`
	Namespaces    []string `json:"namespaces"`
	Questions     int64    `json:"questions_deleted"`
	RepoIndexes   int64    `json:"repo_indexes_deleted"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:             model.ID,
		AssessmentID:   model.AssessmentID,
		CandidateEmail: model.CandidateEmail,
		Status:         model.Status,
		GitHubRepo: GitHubRepoResponse{
			Owner:           model.GitHubRepo.Owner,
			Repo:            model.GitHubRepo.Repo,
			PinnedCommitSHA: model.GitHubRepo.PinnedCommitSHA,
		},
		FinalizedAt: model.FinalizedAt,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}
