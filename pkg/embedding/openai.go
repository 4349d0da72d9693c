package embedding

import (
	"context"
	"errors"
	"fmt"
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
	embedDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeprobe",
		Subsystem: "embedding",
		Name:      "batch_duration_seconds",
		Help:      "Duration of embedding batch requests",
	}, []string{"model"})

	embedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeprobe",
		Subsystem: "embedding",
		Name:      "failures_total",
		Help:      "Number of failed embedding calls",
	}, []string{"model"})

	embedInputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeprobe",
		Subsystem: "embedding",
		Name:      "inputs_total",
		Help:      "Number of texts sent for embedding",
	}, []string{"model"})
)

var (
	// ErrDimensionMismatch means the model and the vector index disagree on vector size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrIncompleteResponse means the provider returned fewer vectors than inputs.
	ErrIncompleteResponse = errors.New("embedding response incomplete")
)

// Embedder converts text into fixed-length vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ClientProvider hands out a configured OpenAI client.
type ClientProvider interface {
	Client() (*openai.Client, error)
}

// Config configures the OpenAI embedder.
type Config struct {
	Model         string
	Dimensions    int
	BatchSize     int
	MaxInputChars int
	Logger        zerolog.Logger
}

// OpenAIEmbedder implements Embedder against the OpenAI embeddings API.
type OpenAIEmbedder struct {
	clients ClientProvider
	cfg     Config
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewOpenAIEmbedder builds an embedder that resolves its client lazily.
func NewOpenAIEmbedder(clients ClientProvider, cfg Config) (*OpenAIEmbedder, error) {
	if clients == nil {
		return nil, fmt.Errorf("openai client provider is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 8000
	}

	return &OpenAIEmbedder{
		clients: clients,
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/noah-isme/codeprobe-api/pkg/embedding"),
		logger:  cfg.Logger.With().Str("component", "embedder").Logger(),
	}, nil
}

// Dimension returns the configured vector length.
func (e *OpenAIEmbedder) Dimension() int {
	return e.cfg.Dimensions
}

// Embed sends texts in batches. Any failed batch fails the whole call.
func (e *OpenAIEmbedder) Embed(parent context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := e.tracer.Start(parent, "embedding.embed", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.Int("inputs", len(texts)),
	))
	defer span.End()

	client, err := e.clients.Client()
	if err != nil {
		e.fail(span, err)
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, client, texts[start:end])
		if err != nil {
			e.fail(span, err)
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}

	embedInputs.WithLabelValues(e.cfg.Model).Add(float64(len(texts)))
	return vectors, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, client *openai.Client, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = truncateRunes(text, e.cfg.MaxInputChars)
	}

	start := time.Now()
	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Dimensions: e.cfg.Dimensions,
	})
	embedDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrIncompleteResponse, len(resp.Data), len(inputs))
	}

	ordered := make([][]float32, len(inputs))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(inputs) || ordered[item.Index] != nil {
			return nil, fmt.Errorf("%w: unexpected index %d", ErrIncompleteResponse, item.Index)
		}
		if len(item.Embedding) != e.cfg.Dimensions {
			return nil, fmt.Errorf("%w: model %s returned %d, index expects %d", ErrDimensionMismatch, e.cfg.Model, len(item.Embedding), e.cfg.Dimensions)
		}
		ordered[item.Index] = item.Embedding
	}
	return ordered, nil
}

func (e *OpenAIEmbedder) fail(span trace.Span, err error) {
	embedFailures.WithLabelValues(e.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Warn().Err(err).Msg("embedding request failed")
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
