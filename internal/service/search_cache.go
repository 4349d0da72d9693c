package service

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codeprobe-api/internal/dto"
	"github.com/noah-isme/codeprobe-api/internal/observability"
)

// SearchCache stores shaped retrieval results.
type SearchCache interface {
	Get(ctx context.Context, key string) (dto.CodeSearchResponse, bool)
	Set(ctx context.Context, key string, value dto.CodeSearchResponse)
}

// NewSearchCache uses redis when a client is provided and an in-process cache otherwise.
// A non-positive ttl disables caching.
func NewSearchCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) SearchCache {
	if ttl <= 0 {
		return noopSearchCache{}
	}

	logger = logger.With().Str("component", "search_cache").Logger()
	if client != nil {
		return &redisSearchCache{client: client, ttl: ttl, logger: logger}
	}
	return &memorySearchCache{items: gocache.New(ttl, 2*ttl)}
}

type redisSearchCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func (c *redisSearchCache) Get(ctx context.Context, key string) (dto.CodeSearchResponse, bool) {
	cached, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("failed to read search cache")
		}
		observability.SearchCacheLookups().WithLabelValues("miss").Inc()
		return dto.CodeSearchResponse{}, false
	}

	var response dto.CodeSearchResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		c.logger.Warn().Err(err).Msg("discarding unreadable search cache entry")
		observability.SearchCacheLookups().WithLabelValues("miss").Inc()
		return dto.CodeSearchResponse{}, false
	}

	observability.SearchCacheLookups().WithLabelValues("hit").Inc()
	return response, true
}

func (c *redisSearchCache) Set(ctx context.Context, key string, value dto.CodeSearchResponse) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to store search cache")
	}
}

type memorySearchCache struct {
	items *gocache.Cache
}

func (c *memorySearchCache) Get(_ context.Context, key string) (dto.CodeSearchResponse, bool) {
	value, ok := c.items.Get(key)
	if !ok {
		observability.SearchCacheLookups().WithLabelValues("miss").Inc()
		return dto.CodeSearchResponse{}, false
	}
	observability.SearchCacheLookups().WithLabelValues("hit").Inc()
	return cloneSearchResponse(value.(dto.CodeSearchResponse)), true
}

func (c *memorySearchCache) Set(_ context.Context, key string, value dto.CodeSearchResponse) {
	c.items.SetDefault(key, cloneSearchResponse(value))
}

type noopSearchCache struct{}

func (noopSearchCache) Get(context.Context, string) (dto.CodeSearchResponse, bool) {
	return dto.CodeSearchResponse{}, false
}

func (noopSearchCache) Set(context.Context, string, dto.CodeSearchResponse) {}

func cloneSearchResponse(in dto.CodeSearchResponse) dto.CodeSearchResponse {
	out := in
	out.Chunks = make([]dto.CodeChunkResponse, len(in.Chunks))
	copy(out.Chunks, in.Chunks)
	return out
}
