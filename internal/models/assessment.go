package models

import "time"

// Assessment is an employer-authored coding assessment shared with candidates.
type Assessment struct {
	ID                            uint         `gorm:"primaryKey" json:"id"`
	OwnerID                       uint         `gorm:"index" json:"owner_id"`
	Title                         string       `gorm:"size:255;not null" json:"title"`
	Description                   string       `gorm:"type:text" json:"description"`
	NumInterviewQuestions         int          `gorm:"default:5" json:"num_interview_questions"`
	InterviewerCustomInstructions string       `gorm:"type:text" json:"interviewer_custom_instructions"`
	CreatedAt                     time.Time    `json:"created_at"`
	UpdatedAt                     time.Time    `json:"updated_at"`
	Submissions                   []Submission `json:"submissions,omitempty"`
}
