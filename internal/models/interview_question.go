package models

import (
	"time"

	"gorm.io/datatypes"
)

// CodeAnchor cites a line range of a file in the indexed repository.
type CodeAnchor struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// InterviewQuestion is a generated question grounded in retrieved code.
type InterviewQuestion struct {
	ID           uint                            `gorm:"primaryKey" json:"id"`
	SubmissionID uint                            `gorm:"not null;index" json:"submission_id"`
	Position     int                             `gorm:"not null" json:"position"`
	Prompt       string                          `gorm:"type:text;not null" json:"prompt"`
	Anchors      datatypes.JSONSlice[CodeAnchor] `json:"anchors"`
	Kind         string                          `gorm:"size:16;default:initial" json:"kind"`
	CreatedAt    time.Time                       `json:"created_at"`
	Submission   Submission                      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// Interview question kinds.
const (
	InterviewQuestionKindInitial  = "initial"
	InterviewQuestionKindFollowUp = "follow_up"
)
