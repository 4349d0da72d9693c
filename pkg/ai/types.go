package ai

import "context"

// ChunkContext is a retrieved code excerpt shown to the model.
type ChunkContext struct {
	Path      string
	StartLine int
	EndLine   int
	Content   string
}

// FollowUpContext carries the live interview state for a follow-up question.
type FollowUpContext struct {
	Question string
	Answer   string
}

// QuestionInput contains everything the model sees when writing questions.
type QuestionInput struct {
	Description        string
	CustomInstructions string
	NumQuestions       int
	Chunks             []ChunkContext
	FollowUp           *FollowUpContext
}

// QuestionWriter asks a model for interview questions and returns its raw JSON
// reply. Callers own validation of the reply.
type QuestionWriter interface {
	WriteQuestions(ctx context.Context, input QuestionInput) (string, error)
}
