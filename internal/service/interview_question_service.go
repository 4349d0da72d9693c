package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/observability"
	"github.com/noah-isme/codeprobe-api/internal/repository"
	"github.com/noah-isme/codeprobe-api/pkg/ai"
	"github.com/noah-isme/codeprobe-api/pkg/transcript"
)

var (
	// ErrDescriptionRequired indicates neither the request nor the assessment carries a description.
	ErrDescriptionRequired = errors.New("assessment description is required")
	// ErrNoRelevantChunks indicates the index is ready but retrieval returned nothing usable.
	ErrNoRelevantChunks = errors.New("no relevant code found")
	// ErrModelContract indicates the model reply was malformed or did not match the question schema.
	ErrModelContract = errors.New("model output violated the question contract")
	// ErrGeneratorUnavailable indicates the question writer is not configured or failed upstream.
	ErrGeneratorUnavailable = errors.New("question generator unavailable")
	// ErrInvalidTranscript indicates the follow-up transcript has an unrecognized shape.
	ErrInvalidTranscript = errors.New("invalid transcript")
)

const (
	defaultNumQuestions = 5
	maxNumQuestions     = 20
	maxQueryRunes       = 2000
	maxAnchorsPerPrompt = 3
)

const questionSchema = `{
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["prompt", "anchors"],
        "properties": {
          "prompt": {"type": "string", "minLength": 1},
          "anchors": {
            "type": "array",
            "maxItems": 3,
            "items": {
              "type": "object",
              "required": ["path", "startLine", "endLine"],
              "properties": {
                "path": {"type": "string", "minLength": 1},
                "startLine": {"type": "integer", "minimum": 1},
                "endLine": {"type": "integer", "minimum": 1}
              }
            }
          }
        }
      }
    }
  }
}`

// InterviewQuestionService generates and lists grounded interview questions.
type InterviewQuestionService interface {
	Generate(ctx context.Context, submissionID uint, payload dto.GenerateQuestionsRequest) (dto.InterviewQuestionsResponse, error)
	FollowUp(ctx context.Context, submissionID uint, payload dto.FollowUpQuestionRequest) (dto.FollowUpQuestionResponse, error)
	List(ctx context.Context, submissionID uint) ([]dto.InterviewQuestionResponse, error)
}

// InterviewQuestionConfig bounds the model call.
type InterviewQuestionConfig struct {
	LLMTimeout time.Duration
}

type modelQuestions struct {
	Questions []modelQuestion `json:"questions"`
}

type modelQuestion struct {
	Prompt  string        `json:"prompt"`
	Anchors []modelAnchor `json:"anchors"`
}

type modelAnchor struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

type interviewQuestionService struct {
	submissions repository.SubmissionRepository
	questions   repository.InterviewQuestionRepository
	retriever   CodeSearchService
	writer      ai.QuestionWriter
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	schema      *jsonschema.Schema
	config      InterviewQuestionConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewInterviewQuestionService constructs the question generator. A nil writer makes generation unavailable.
func NewInterviewQuestionService(
	submissions repository.SubmissionRepository,
	questions repository.InterviewQuestionRepository,
	retriever CodeSearchService,
	writer ai.QuestionWriter,
	validate *validator.Validate,
	cfg InterviewQuestionConfig,
	logger zerolog.Logger,
) InterviewQuestionService {
	if validate == nil {
		validate = validator.New()
	}

	return &interviewQuestionService{
		submissions: submissions,
		questions:   questions,
		retriever:   retriever,
		writer:      writer,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		schema:      jsonschema.MustCompileString("questions.schema.json", questionSchema),
		config:      cfg,
		logger:      logger.With().Str("component", "interview_question_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/codeprobe-api/internal/service/interview_question"),
	}
}

func (s *interviewQuestionService) Generate(ctx context.Context, submissionID uint, payload dto.GenerateQuestionsRequest) (dto.InterviewQuestionsResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.InterviewQuestionsResponse{}, err
	}

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.InterviewQuestionsResponse{}, err
	}
	assessment := submission.Assessment

	description := s.cleanText(payload.Description)
	if description == "" {
		description = s.cleanText(assessment.Description)
	}
	if description == "" {
		return dto.InterviewQuestionsResponse{}, ErrDescriptionRequired
	}

	instructions := s.cleanText(payload.CustomInstructions)
	if instructions == "" {
		instructions = s.cleanText(assessment.InterviewerCustomInstructions)
	}

	numQuestions := payload.NumQuestions
	if numQuestions <= 0 {
		numQuestions = assessment.NumInterviewQuestions
	}
	if numQuestions <= 0 {
		numQuestions = defaultNumQuestions
	}
	if numQuestions > maxNumQuestions {
		numQuestions = maxNumQuestions
	}

	ctx, span := s.tracer.Start(ctx, "interview_questions.generate", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
		attribute.Int("questions.requested", numQuestions),
	))
	defer span.End()

	retrieved, err := s.retrieve(ctx, submissionID, description)
	if err != nil {
		return dto.InterviewQuestionsResponse{}, err
	}

	raw, err := s.write(ctx, ai.QuestionInput{
		Description:        description,
		CustomInstructions: instructions,
		NumQuestions:       numQuestions,
		Chunks:             chunkContexts(retrieved),
	})
	if err != nil {
		span.RecordError(err)
		return dto.InterviewQuestionsResponse{}, err
	}

	questions, rejected, err := s.ground(raw, retrieved, models.InterviewQuestionKindInitial)
	if err != nil {
		span.RecordError(err)
		return dto.InterviewQuestionsResponse{}, err
	}
	if len(questions) > numQuestions {
		questions = questions[:numQuestions]
	}
	if len(questions) < numQuestions {
		s.logger.Warn().Uint("submission_id", submissionID).Int("requested", numQuestions).Int("received", len(questions)).Msg("model returned fewer questions than requested")
	}

	saved, err := s.questions.ReplaceInitial(ctx, submissionID, questions)
	if err != nil {
		return dto.InterviewQuestionsResponse{}, fmt.Errorf("store interview questions: %w", err)
	}

	return dto.InterviewQuestionsResponse{
		Questions:           dto.NewInterviewQuestionResponses(saved),
		RetrievedChunkCount: len(retrieved.Chunks),
		ChunkPaths:          retrieved.ChunkPaths(),
		RejectedAnchors:     rejected,
	}, nil
}

func (s *interviewQuestionService) FollowUp(ctx context.Context, submissionID uint, payload dto.FollowUpQuestionRequest) (dto.FollowUpQuestionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.FollowUpQuestionResponse{}, err
	}

	answer, err := transcript.Normalize(payload.Transcript)
	if err != nil {
		return dto.FollowUpQuestionResponse{}, fmt.Errorf("%w: %v", ErrInvalidTranscript, err)
	}
	answer = s.cleanText(answer)
	question := s.cleanText(payload.Question)

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.FollowUpQuestionResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "interview_questions.follow_up", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
	))
	defer span.End()

	retrieved, err := s.retrieve(ctx, submissionID, strings.TrimSpace(question+"\n"+answer))
	if err != nil {
		return dto.FollowUpQuestionResponse{}, err
	}

	raw, err := s.write(ctx, ai.QuestionInput{
		Description:        s.cleanText(submission.Assessment.Description),
		CustomInstructions: s.cleanText(submission.Assessment.InterviewerCustomInstructions),
		NumQuestions:       1,
		Chunks:             chunkContexts(retrieved),
		FollowUp:           &ai.FollowUpContext{Question: question, Answer: answer},
	})
	if err != nil {
		span.RecordError(err)
		return dto.FollowUpQuestionResponse{}, err
	}

	questions, rejected, err := s.ground(raw, retrieved, models.InterviewQuestionKindFollowUp)
	if err != nil {
		span.RecordError(err)
		return dto.FollowUpQuestionResponse{}, err
	}

	followUp := questions[0]
	followUp.SubmissionID = submissionID
	if err := s.questions.Append(ctx, &followUp); err != nil {
		return dto.FollowUpQuestionResponse{}, fmt.Errorf("store follow-up question: %w", err)
	}

	return dto.FollowUpQuestionResponse{
		Question:            dto.NewInterviewQuestionResponse(followUp),
		RetrievedChunkCount: len(retrieved.Chunks),
		ChunkPaths:          retrieved.ChunkPaths(),
		RejectedAnchors:     rejected,
	}, nil
}

func (s *interviewQuestionService) List(ctx context.Context, submissionID uint) ([]dto.InterviewQuestionResponse, error) {
	if _, err := s.loadSubmission(ctx, submissionID); err != nil {
		return nil, err
	}

	questions, err := s.questions.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return dto.NewInterviewQuestionResponses(questions), nil
}

func (s *interviewQuestionService) loadSubmission(ctx context.Context, submissionID uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *interviewQuestionService) retrieve(ctx context.Context, submissionID uint, query string) (dto.CodeSearchResponse, error) {
	retrieved, err := s.retriever.Search(ctx, submissionID, truncateRunes(query, maxQueryRunes), SearchOptions{})
	if err != nil {
		return dto.CodeSearchResponse{}, err
	}
	if len(retrieved.Chunks) == 0 {
		return dto.CodeSearchResponse{}, ErrNoRelevantChunks
	}
	return retrieved, nil
}

func (s *interviewQuestionService) write(ctx context.Context, input ai.QuestionInput) (string, error) {
	if s.writer == nil {
		return "", ErrGeneratorUnavailable
	}

	llmCtx, cancel := withTimeout(ctx, s.config.LLMTimeout)
	defer cancel()

	raw, err := s.writer.WriteQuestions(llmCtx, input)
	if err != nil {
		s.logger.Error().Err(err).Msg("question writer failed")
		return "", fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	return raw, nil
}

// ground validates the model reply and strips every anchor that does not match a supplied chunk exactly.
func (s *interviewQuestionService) ground(raw string, retrieved dto.CodeSearchResponse, kind string) ([]models.InterviewQuestion, int, error) {
	parsed, err := s.parseModelReply(raw)
	if err != nil {
		return nil, 0, err
	}

	supplied := make(map[models.CodeAnchor]struct{}, len(retrieved.Chunks))
	for _, chunk := range retrieved.Chunks {
		supplied[models.CodeAnchor{Path: chunk.Path, StartLine: chunk.StartLine, EndLine: chunk.EndLine}] = struct{}{}
	}

	rejected := 0
	questions := make([]models.InterviewQuestion, 0, len(parsed.Questions))
	for _, item := range parsed.Questions {
		prompt := strings.TrimSpace(item.Prompt)
		if prompt == "" {
			continue
		}

		anchors := make([]models.CodeAnchor, 0, len(item.Anchors))
		seen := make(map[models.CodeAnchor]struct{}, len(item.Anchors))
		for _, candidate := range item.Anchors {
			anchor := models.CodeAnchor{Path: candidate.Path, StartLine: candidate.StartLine, EndLine: candidate.EndLine}
			if _, ok := supplied[anchor]; !ok {
				rejected++
				continue
			}
			if _, dup := seen[anchor]; dup {
				continue
			}
			seen[anchor] = struct{}{}
			anchors = append(anchors, anchor)
			if len(anchors) == maxAnchorsPerPrompt {
				break
			}
		}

		questions = append(questions, models.InterviewQuestion{
			Prompt:  prompt,
			Anchors: anchors,
			Kind:    kind,
		})
	}

	if rejected > 0 {
		observability.AnchorsRejected().WithLabelValues(kind).Add(float64(rejected))
		s.logger.Warn().Int("rejected_anchors", rejected).Str("kind", kind).Msg("stripped anchors outside the supplied chunk set")
	}
	if len(questions) == 0 {
		return nil, rejected, fmt.Errorf("%w: no questions returned", ErrModelContract)
	}
	return questions, rejected, nil
}

func (s *interviewQuestionService) parseModelReply(raw string) (modelQuestions, error) {
	var document interface{}
	if err := json.Unmarshal([]byte(raw), &document); err != nil {
		return modelQuestions{}, fmt.Errorf("%w: %v", ErrModelContract, err)
	}
	if err := s.schema.Validate(document); err != nil {
		return modelQuestions{}, fmt.Errorf("%w: %v", ErrModelContract, err)
	}

	var parsed modelQuestions
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return modelQuestions{}, fmt.Errorf("%w: %v", ErrModelContract, err)
	}
	return parsed, nil
}

// htmlTag matches the opening of a lower case HTML element. Single letter names are left out
// because they collide with type parameters such as Box<T> or Pair<a, b>.
var htmlTag = regexp.MustCompile(`^</?(?:abbr|blockquote|body|br|button|code|del|details|div|em|embed|form|h[1-6]|head|hr|html|iframe|img|input|ins|kbd|li|link|meta|object|ol|pre|script|section|small|span|strike|strong|style|sub|summary|sup|svg|table|tbody|td|textarea|th|thead|title|tr|ul)[\s/>]`)

// cleanText strips HTML from customer supplied markdown. Angle brackets that do not open a
// known element, as in generic types, are kept as literal text.
func (s *interviewQuestionService) cleanText(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(escapeLiteralBrackets(value))))
}

func escapeLiteralBrackets(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '&':
			b.WriteString("&amp;")
		case '<':
			rest := value[i:]
			if htmlTag.MatchString(rest) || strings.HasPrefix(rest, "<!--") {
				b.WriteByte('<')
			} else {
				b.WriteString("&lt;")
			}
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

func chunkContexts(retrieved dto.CodeSearchResponse) []ai.ChunkContext {
	chunks := make([]ai.ChunkContext, 0, len(retrieved.Chunks))
	for _, chunk := range retrieved.Chunks {
		chunks = append(chunks, ai.ChunkContext{
			Path:      chunk.Path,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
			Content:   chunk.Content,
		})
	}
	return chunks
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
