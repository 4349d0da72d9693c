package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeprobe",
		Subsystem: "ai",
		Name:      "question_duration_seconds",
		Help:      "Duration of question generation requests",
	}, []string{"model", "kind"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeprobe",
		Subsystem: "ai",
		Name:      "question_failures_total",
		Help:      "Number of failed question generation requests",
	}, []string{"model", "kind"})
)

// ErrEmptyCompletion is returned when the model produced no content.
var ErrEmptyCompletion = errors.New("openai returned no content")

// OpenAIConfig defines configuration options for the OpenAI question writer.
type OpenAIConfig struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIQuestionWriter implements QuestionWriter against the chat completion API.
type OpenAIQuestionWriter struct {
	clients *ClientProvider
	cfg     OpenAIConfig
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewOpenAIQuestionWriter builds a writer. The OpenAI client is resolved on first use.
func NewOpenAIQuestionWriter(clients *ClientProvider, cfg OpenAIConfig) *OpenAIQuestionWriter {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	return &OpenAIQuestionWriter{
		clients: clients,
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/noah-isme/codeprobe-api/pkg/ai/openai"),
		logger:  cfg.Logger.With().Str("component", "question_writer").Logger(),
	}
}

// WriteQuestions sends the prompt in JSON mode and returns the raw reply.
func (w *OpenAIQuestionWriter) WriteQuestions(parent context.Context, input QuestionInput) (string, error) {
	kind := "initial"
	if input.FollowUp != nil {
		kind = "follow_up"
	}

	ctx, span := w.tracer.Start(parent, "openai.write_questions", trace.WithAttributes(
		attribute.String("model", w.cfg.Model),
		attribute.String("kind", kind),
		attribute.Int("chunks", len(input.Chunks)),
	))
	defer span.End()

	fail := func(err error) (string, error) {
		aiFailures.WithLabelValues(w.cfg.Model, kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	client, err := w.clients.Client()
	if err != nil {
		return fail(err)
	}

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       w.cfg.Model,
		MaxTokens:   w.cfg.MaxTokens,
		Temperature: w.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: questionSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserPrompt(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	aiDuration.WithLabelValues(w.cfg.Model, kind).Observe(time.Since(start).Seconds())
	if err != nil {
		return fail(fmt.Errorf("openai write questions: %w", err))
	}
	if len(resp.Choices) == 0 {
		return fail(ErrEmptyCompletion)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return fail(ErrEmptyCompletion)
	}

	w.logger.Debug().
		Str("kind", kind).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("questions written")
	return content, nil
}

func questionSystemPrompt() string {
	return "You are a senior engineer preparing a technical interview about a candidate's repository. " +
		"Respond with a JSON object of the form {\"questions\":[{\"prompt\":string,\"anchors\":[{\"path\":string,\"startLine\":int,\"endLine\":int}]}]}. " +
		"Each question needs 1 to 3 anchors. Every anchor path, startLine and endLine must be copied exactly from the CHUNK headers supplied; never invent a location."
}

// BuildUserPrompt renders the assessment context and numbered chunk list.
func BuildUserPrompt(input QuestionInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Assessment\n")
	builder.WriteString(input.Description)
	if input.CustomInstructions != "" {
		builder.WriteString("\n\n## Interviewer Instructions\n")
		builder.WriteString(input.CustomInstructions)
	}
	if input.FollowUp != nil {
		builder.WriteString("\n\n## Current Question\n")
		builder.WriteString(input.FollowUp.Question)
		builder.WriteString("\n\n## Candidate Answer\n")
		builder.WriteString(input.FollowUp.Answer)
	}

	builder.WriteString("\n\n## Code\n")
	for i, chunk := range input.Chunks {
		fmt.Fprintf(&builder, "\n### CHUNK %d path=%s startLine=%d endLine=%d\n", i+1, chunk.Path, chunk.StartLine, chunk.EndLine)
		builder.WriteString("```\n")
		builder.WriteString(chunk.Content)
		builder.WriteString("\n```\n")
	}

	if input.FollowUp != nil {
		builder.WriteString("\nWrite exactly 1 follow-up question that probes the candidate's answer against the code. Return JSON.")
	} else {
		fmt.Fprintf(&builder, "\nWrite exactly %d questions. Return JSON.", input.NumQuestions)
	}
	return builder.String()
}
