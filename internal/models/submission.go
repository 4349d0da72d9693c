package models

import (
	"strings"
	"time"
)

const (
	// SubmissionStatusDraft indicates the candidate has not provided a final repository yet.
	SubmissionStatusDraft = "draft"
	// SubmissionStatusFinalized indicates the final GitHub link was accepted.
	SubmissionStatusFinalized = "finalized"
)

// GitHubRepo pins the candidate repository to an exact commit.
type GitHubRepo struct {
	Owner           string `gorm:"size:255" json:"owner"`
	Repo            string `gorm:"size:255" json:"repo"`
	PinnedCommitSHA string `gorm:"size:64" json:"pinned_commit_sha"`
}

// IsComplete reports whether every field needed to fetch a snapshot is present.
func (g GitHubRepo) IsComplete() bool {
	return strings.TrimSpace(g.Owner) != "" &&
		strings.TrimSpace(g.Repo) != "" &&
		strings.TrimSpace(g.PinnedCommitSHA) != ""
}

// Submission represents a candidate's answer to an assessment.
type Submission struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	AssessmentID   uint       `gorm:"not null;index" json:"assessment_id"`
	CandidateEmail string     `gorm:"size:255" json:"candidate_email"`
	Status         string     `gorm:"size:32;not null;default:draft" json:"status"`
	GitHubRepo     GitHubRepo `gorm:"embedded;embeddedPrefix:github_" json:"github_repo"`
	FinalizedAt    *time.Time `json:"finalized_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Assessment     Assessment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// IsFinalized reports whether the submission can be indexed.
func (s Submission) IsFinalized() bool {
	return s.Status == SubmissionStatusFinalized && s.GitHubRepo.IsComplete()
}
