package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/codeprobe-api/internal/models"
)

// GenerateQuestionsRequest overrides the assessment defaults for one generation run.
type GenerateQuestionsRequest struct {
	Description        string `json:"description"`
	NumQuestions       int    `json:"num_questions" validate:"omitempty,min=1,max=20"`
	CustomInstructions string `json:"custom_instructions" validate:"omitempty,max=4000"`
}

// FollowUpQuestionRequest carries the live interview state.
type FollowUpQuestionRequest struct {
	Question   string          `json:"question" validate:"required,max=4000"`
	Transcript json.RawMessage `json:"transcript" validate:"required"`
}

// CodeAnchorResponse cites a line range that was shown to the model.
type CodeAnchorResponse struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// InterviewQuestionResponse is a persisted grounded question.
type InterviewQuestionResponse struct {
	ID        uint                 `json:"id"`
	Position  int                  `json:"position"`
	Prompt    string               `json:"prompt"`
	Anchors   []CodeAnchorResponse `json:"anchors"`
	Kind      string               `json:"kind"`
	CreatedAt time.Time            `json:"created_at"`
}

// InterviewQuestionsResponse is returned after generation.
type InterviewQuestionsResponse struct {
	Questions           []InterviewQuestionResponse `json:"questions"`
	RetrievedChunkCount int                         `json:"retrieved_chunk_count"`
	ChunkPaths          []string                    `json:"chunk_paths"`
	RejectedAnchors     int                         `json:"rejected_anchors"`
}

// FollowUpQuestionResponse is returned for a single follow-up question.
type FollowUpQuestionResponse struct {
	Question            InterviewQuestionResponse `json:"question"`
	RetrievedChunkCount int                       `json:"retrieved_chunk_count"`
	ChunkPaths          []string                  `json:"chunk_paths"`
	RejectedAnchors     int                       `json:"rejected_anchors"`
}

// NewInterviewQuestionResponse converts an InterviewQuestion model into a DTO.
func NewInterviewQuestionResponse(model models.InterviewQuestion) InterviewQuestionResponse {
	anchors := make([]CodeAnchorResponse, 0, len(model.Anchors))
	for _, anchor := range model.Anchors {
		anchors = append(anchors, CodeAnchorResponse(anchor))
	}

	return InterviewQuestionResponse{
		ID:        model.ID,
		Position:  model.Position,
		Prompt:    model.Prompt,
		Anchors:   anchors,
		Kind:      model.Kind,
		CreatedAt: model.CreatedAt,
	}
}

// NewInterviewQuestionResponses converts a slice of models.
func NewInterviewQuestionResponses(items []models.InterviewQuestion) []InterviewQuestionResponse {
	responses := make([]InterviewQuestionResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewInterviewQuestionResponse(item))
	}
	return responses
}
