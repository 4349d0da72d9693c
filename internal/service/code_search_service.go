package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/observability"
	"github.com/noah-isme/codeprobe-api/internal/repository"
	"github.com/noah-isme/codeprobe-api/pkg/embedding"
	"github.com/noah-isme/codeprobe-api/pkg/vectorstore"
)

// ErrQueryRequired indicates an empty search query.
var ErrQueryRequired = errors.New("search query is required")

// DuplicateOverlapRatio is the union-overlap ratio above which two ranges of one file are duplicates.
const DuplicateOverlapRatio = 0.30

// SearchOptions tunes one retrieval call. Zero values fall back to the configured defaults.
type SearchOptions struct {
	TopK          int
	MaxChunks     int
	MaxChunkChars int
	MaxTotalChars int
}

// SearchConfig carries defaults and hard caps for retrieval.
type SearchConfig struct {
	Defaults SearchOptions
	MaxTopK  int
}

// DefaultSearchConfig mirrors the service defaults.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Defaults: SearchOptions{TopK: 10, MaxChunks: 8, MaxChunkChars: 4000, MaxTotalChars: 16000},
		MaxTopK:  50,
	}
}

// CodeSearchService retrieves code chunks for a submission.
type CodeSearchService interface {
	Search(ctx context.Context, submissionID uint, query string, opts SearchOptions) (dto.CodeSearchResponse, error)
}

type codeSearchService struct {
	submissions repository.SubmissionRepository
	indexes     repository.RepoIndexRepository
	embedder    embedding.Embedder
	store       vectorstore.Store
	cache       SearchCache
	config      SearchConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewCodeSearchService constructs the retriever.
func NewCodeSearchService(
	submissions repository.SubmissionRepository,
	indexes repository.RepoIndexRepository,
	embedder embedding.Embedder,
	store vectorstore.Store,
	cache SearchCache,
	cfg SearchConfig,
	logger zerolog.Logger,
) CodeSearchService {
	defaults := DefaultSearchConfig()
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = defaults.MaxTopK
	}
	cfg.Defaults = cfg.Defaults.withDefaults(defaults.Defaults)
	if cache == nil {
		cache = noopSearchCache{}
	}

	return &codeSearchService{
		submissions: submissions,
		indexes:     indexes,
		embedder:    embedder,
		store:       store,
		cache:       cache,
		config:      cfg,
		logger:      logger.With().Str("component", "code_search_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/codeprobe-api/internal/service/code_search"),
	}
}

func (s *codeSearchService) Search(ctx context.Context, submissionID uint, query string, opts SearchOptions) (dto.CodeSearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return dto.CodeSearchResponse{}, ErrQueryRequired
	}

	opts = opts.withDefaults(s.config.Defaults)
	if opts.TopK > s.config.MaxTopK {
		opts.TopK = s.config.MaxTopK
	}

	ctx, span := s.tracer.Start(ctx, "code_search.search", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
		attribute.Int("search.top_k", opts.TopK),
	))
	defer span.End()

	record, err := s.readyIndex(ctx, submissionID)
	if err != nil {
		return dto.CodeSearchResponse{}, err
	}

	key := searchCacheKey(record, query, opts)
	if cached, ok := s.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("search.cache_hit", true))
		return cached, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		return dto.CodeSearchResponse{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return dto.CodeSearchResponse{}, embedding.ErrIncompleteResponse
	}

	namespace := record.Namespace
	if namespace == "" {
		namespace = vectorstore.NamespaceForSubmission(submissionID)
	}
	matches, err := s.store.Query(ctx, namespace, vectors[0], opts.TopK)
	if err != nil {
		span.RecordError(err)
		return dto.CodeSearchResponse{}, fmt.Errorf("query vector store: %w", err)
	}

	response := ShapeMatches(matches, opts)
	observability.RetrievalChunks().Observe(float64(response.Stats.Returned))
	span.SetAttributes(
		attribute.Int("search.retrieved", response.Stats.Retrieved),
		attribute.Int("search.returned", response.Stats.Returned),
	)

	s.cache.Set(ctx, key, response)
	return response, nil
}

// readyIndex resolves the index row serving the submission's pinned commit.
func (s *codeSearchService) readyIndex(ctx context.Context, submissionID uint) (models.RepoIndex, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		// a deleted submission has no index either; callers see not_indexed rather than stale data
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RepoIndex{}, fmt.Errorf("%w: %w", ErrNotIndexed, ErrSubmissionNotFound)
		}
		return models.RepoIndex{}, err
	}
	if !submission.IsFinalized() {
		return models.RepoIndex{}, ErrNotIndexed
	}

	record, err := s.indexes.GetCurrent(ctx, submission.ID, submission.GitHubRepo.PinnedCommitSHA)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RepoIndex{}, ErrNotIndexed
		}
		return models.RepoIndex{}, err
	}

	switch {
	case record.IsReady():
		return record, nil
	case record.InProgress():
		return models.RepoIndex{}, ErrIndexingInProgress
	case record.Status == models.RepoIndexStatusFailed:
		return models.RepoIndex{}, ErrIndexFailed
	default:
		return models.RepoIndex{}, ErrNotIndexed
	}
}

// ShapeMatches orders, deduplicates and budgets raw vector matches.
func ShapeMatches(matches []vectorstore.Match, opts SearchOptions) dto.CodeSearchResponse {
	ordered := append([]vectorstore.Match(nil), matches...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		if ordered[i].Path != ordered[j].Path {
			return ordered[i].Path < ordered[j].Path
		}
		return ordered[i].StartLine < ordered[j].StartLine
	})

	stats := dto.CodeSearchStatsResponse{TopK: opts.TopK, Retrieved: len(matches)}

	kept := make([]vectorstore.Match, 0, len(ordered))
	for _, candidate := range ordered {
		duplicate := false
		for _, existing := range kept {
			if existing.Path == candidate.Path && OverlapRatio(existing.StartLine, existing.EndLine, candidate.StartLine, candidate.EndLine) > DuplicateOverlapRatio {
				duplicate = true
				break
			}
		}
		if duplicate {
			stats.Deduplicated++
			continue
		}
		kept = append(kept, candidate)
	}

	chunks := make([]dto.CodeChunkResponse, 0, len(kept))
	for _, match := range kept {
		if opts.MaxChunks > 0 && len(chunks) >= opts.MaxChunks {
			stats.BudgetExhausted = true
			break
		}

		content, truncated := truncateChars(match.Content, opts.MaxChunkChars)
		size := utf8.RuneCountInString(content)
		if opts.MaxTotalChars > 0 && stats.TotalChars+size > opts.MaxTotalChars {
			stats.BudgetExhausted = true
			break
		}

		if truncated {
			stats.TruncatedChunks++
		}
		stats.TotalChars += size
		chunks = append(chunks, dto.CodeChunkResponse{
			Path:      match.Path,
			StartLine: match.StartLine,
			EndLine:   match.EndLine,
			Content:   content,
			Score:     match.Score,
			Truncated: truncated,
		})
	}
	stats.Returned = len(chunks)

	return dto.CodeSearchResponse{Chunks: chunks, Stats: stats}
}

// OverlapRatio is the shared line count of two inclusive ranges divided by the size of their union.
func OverlapRatio(startA, endA, startB, endB int) float64 {
	shared := min(endA, endB) - max(startA, startB) + 1
	if shared <= 0 {
		return 0
	}
	union := max(endA, endB) - min(startA, startB) + 1
	return float64(shared) / float64(union)
}

func truncateChars(content string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return content, false
	}
	runes := []rune(content)
	return string(runes[:limit]), true
}

func (o SearchOptions) withDefaults(defaults SearchOptions) SearchOptions {
	if o.TopK <= 0 {
		o.TopK = defaults.TopK
	}
	if o.MaxChunks <= 0 {
		o.MaxChunks = defaults.MaxChunks
	}
	if o.MaxChunkChars <= 0 {
		o.MaxChunkChars = defaults.MaxChunkChars
	}
	if o.MaxTotalChars <= 0 {
		o.MaxTotalChars = defaults.MaxTotalChars
	}
	return o
}

// searchCacheKey changes whenever the index is rebuilt, so a re-index never serves stale chunks.
func searchCacheKey(record models.RepoIndex, query string, opts SearchOptions) string {
	completed := int64(0)
	if record.CompletedAt != nil {
		completed = record.CompletedAt.UnixNano()
	}

	digest := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%d|%d", query, opts.TopK, opts.MaxChunks, opts.MaxChunkChars, opts.MaxTotalChars)))
	return fmt.Sprintf("codeprobe:search:%d:%s:%d:%s", record.SubmissionID, record.PinnedCommitSHA, completed, hex.EncodeToString(digest[:]))
}
