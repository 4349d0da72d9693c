package models

import "time"

// RepoIndex lifecycle states.
const (
	RepoIndexStatusPending  = "pending"
	RepoIndexStatusIndexing = "indexing"
	RepoIndexStatusReady    = "ready"
	RepoIndexStatusFailed   = "failed"
)

var repoIndexTransitions = map[string]map[string]bool{
	RepoIndexStatusPending:  {RepoIndexStatusIndexing: true},
	RepoIndexStatusIndexing: {RepoIndexStatusReady: true, RepoIndexStatusFailed: true},
	// explicit re-trigger only; nothing moves out of a terminal state on its own
	RepoIndexStatusReady:  {RepoIndexStatusIndexing: true},
	RepoIndexStatusFailed: {RepoIndexStatusIndexing: true},
}

// CanTransitionRepoIndex reports whether moving from one status to another is allowed.
func CanTransitionRepoIndex(from, to string) bool {
	return repoIndexTransitions[from][to]
}

// ClaimableRepoIndexStatuses lists the states an indexing run may start from.
func ClaimableRepoIndexStatuses() []string {
	return []string{RepoIndexStatusPending, RepoIndexStatusReady, RepoIndexStatusFailed}
}

// RepoIndex tracks the indexing of one submission at one pinned commit.
type RepoIndex struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SubmissionID    uint       `gorm:"not null;uniqueIndex:idx_repo_index_submission_commit,priority:1" json:"submission_id"`
	PinnedCommitSHA string     `gorm:"size:64;not null;uniqueIndex:idx_repo_index_submission_commit,priority:2" json:"pinned_commit_sha"`
	Status          string     `gorm:"size:16;not null;index" json:"status"`
	FileCount       int        `gorm:"default:0" json:"file_count"`
	ChunkCount      int        `gorm:"default:0" json:"chunk_count"`
	TotalChars      int64      `gorm:"default:0" json:"total_chars"`
	FilesSkipped    int        `gorm:"default:0" json:"files_skipped"`
	VectorIndex     string     `gorm:"size:128" json:"vector_index"`
	Namespace       string     `gorm:"size:128" json:"namespace"`
	Error           string     `gorm:"type:text" json:"error"`
	SupersededAt    *time.Time `gorm:"index" json:"superseded_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsReady reports whether the index can serve retrieval.
func (r RepoIndex) IsReady() bool {
	return r.Status == RepoIndexStatusReady
}

// InProgress reports whether an indexing run is queued or running.
func (r RepoIndex) InProgress() bool {
	return r.Status == RepoIndexStatusPending || r.Status == RepoIndexStatusIndexing
}

// TableName pins the table name; gorm would otherwise pluralise to repo_indices.
func (RepoIndex) TableName() string {
	return "repo_indexes"
}
