package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	LogLevel    string
	LogFile     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	CORSOrigins string

	// DBMaxOpenConns should leave room for IndexingWorkers next to HTTP traffic.
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// EventChannel is the base name for broker subjects, e.g. "codeprobe".
	EventChannel string

	OpenAIAPIKey            string
	OpenAIBaseURL           string
	ChatModel               string
	ChatMaxTokens           int
	EmbeddingModel          string
	EmbeddingDimensions     int
	EmbeddingBatchSize      int
	EmbeddingMaxInputChars  int
	VectorStoreDriver       string
	VectorIndexName         string
	VectorUpsertBatchSize   int
	GitHubAPIURL            string
	GitHubToken             string
	SnapshotWorkspace       string
	SnapshotMaxBytes        int64
	SnapshotMaxExtracted    int64
	ChunkWindowLines        int
	ChunkOverlapLines       int
	ChunkMaxFileBytes       int64
	FetchTimeout            time.Duration
	EmbedTimeout            time.Duration
	UpsertTimeout           time.Duration
	LLMTimeout              time.Duration
	IndexingWorkers         int
	IndexingStaleAfter      time.Duration
	SearchTopK              int
	SearchMaxChunks         int
	SearchMaxChunkChars     int
	SearchMaxTotalChars     int
	SearchCacheTTL          time.Duration
	GenerateRateLimit       int
	GenerateRateLimitWindow time.Duration
	SeedEnabled             bool
	SeedToken               string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CODEPROBE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "CodeProbe API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("event.channel", "codeprobe")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.chat_max_tokens", 2048)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.max_input_chars", 8000)
	v.SetDefault("vector.driver", "pgvector")
	v.SetDefault("vector.index_name", "code_vectors")
	v.SetDefault("vector.upsert_batch_size", 100)
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("snapshot.max_bytes", 100*1024*1024)
	v.SetDefault("snapshot.max_extracted_bytes", 512*1024*1024)
	v.SetDefault("chunk.window_lines", 200)
	v.SetDefault("chunk.overlap_lines", 40)
	v.SetDefault("chunk.max_file_bytes", 200*1024)
	v.SetDefault("timeout.fetch", "2m")
	v.SetDefault("timeout.embed", "2m")
	v.SetDefault("timeout.upsert", "1m")
	v.SetDefault("timeout.llm", "90s")
	v.SetDefault("indexing.workers", 4)
	v.SetDefault("indexing.stale_after", "30m")
	v.SetDefault("search.top_k", 10)
	v.SetDefault("search.max_chunks", 8)
	v.SetDefault("search.max_chunk_chars", 4000)
	v.SetDefault("search.max_total_chars", 16000)
	v.SetDefault("search.cache_ttl", "10m")
	v.SetDefault("generate.rate_limit", 10)
	v.SetDefault("generate.rate_limit_window", "1m")
	v.SetDefault("seed.enabled", false)

	durations := map[string]time.Duration{}
	for _, key := range []string{"database.conn_max_lifetime", "timeout.fetch", "timeout.embed", "timeout.upsert", "timeout.llm", "indexing.stale_after", "search.cache_ttl", "generate.rate_limit_window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                 v.GetString("app.name"),
		AppEnv:                  v.GetString("app.env"),
		AppPort:                 v.GetString("app.port"),
		LogLevel:                v.GetString("log.level"),
		LogFile:                 v.GetString("log.file"),
		DatabaseURL:             v.GetString("database.url"),
		DBMaxOpenConns:          v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:          v.GetInt("database.max_idle_conns"),
		DBConnMaxLifetime:       durations["database.conn_max_lifetime"],
		RedisURL:                v.GetString("redis.url"),
		NATSURL:                 v.GetString("nats.url"),
		JWTSecret:               v.GetString("jwt.secret"),
		JWTIssuer:               v.GetString("jwt.issuer"),
		JWTAudience:             v.GetString("jwt.audience"),
		CORSOrigins:             v.GetString("cors.allow_origins"),
		EventChannel:            v.GetString("event.channel"),
		OpenAIAPIKey:            v.GetString("openai_api_key"),
		OpenAIBaseURL:           v.GetString("openai.base_url"),
		ChatModel:               v.GetString("openai.chat_model"),
		ChatMaxTokens:           v.GetInt("openai.chat_max_tokens"),
		EmbeddingModel:          v.GetString("embedding.model"),
		EmbeddingDimensions:     v.GetInt("embedding.dimensions"),
		EmbeddingBatchSize:      v.GetInt("embedding.batch_size"),
		EmbeddingMaxInputChars:  v.GetInt("embedding.max_input_chars"),
		VectorStoreDriver:       strings.ToLower(v.GetString("vector.driver")),
		VectorIndexName:         v.GetString("vector.index_name"),
		VectorUpsertBatchSize:   v.GetInt("vector.upsert_batch_size"),
		GitHubAPIURL:            strings.TrimRight(v.GetString("github.api_url"), "/"),
		GitHubToken:             v.GetString("github_token"),
		SnapshotWorkspace:       v.GetString("snapshot.workspace"),
		SnapshotMaxBytes:        v.GetInt64("snapshot.max_bytes"),
		SnapshotMaxExtracted:    v.GetInt64("snapshot.max_extracted_bytes"),
		ChunkWindowLines:        v.GetInt("chunk.window_lines"),
		ChunkOverlapLines:       v.GetInt("chunk.overlap_lines"),
		ChunkMaxFileBytes:       v.GetInt64("chunk.max_file_bytes"),
		FetchTimeout:            durations["timeout.fetch"],
		EmbedTimeout:            durations["timeout.embed"],
		UpsertTimeout:           durations["timeout.upsert"],
		LLMTimeout:              durations["timeout.llm"],
		IndexingWorkers:         v.GetInt("indexing.workers"),
		IndexingStaleAfter:      durations["indexing.stale_after"],
		SearchTopK:              v.GetInt("search.top_k"),
		SearchMaxChunks:         v.GetInt("search.max_chunks"),
		SearchMaxChunkChars:     v.GetInt("search.max_chunk_chars"),
		SearchMaxTotalChars:     v.GetInt("search.max_total_chars"),
		SearchCacheTTL:          durations["search.cache_ttl"],
		GenerateRateLimit:       v.GetInt("generate.rate_limit"),
		GenerateRateLimitWindow: durations["generate.rate_limit_window"],
		SeedEnabled:             v.GetBool("seed.enabled"),
		SeedToken:               v.GetString("seed.token"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be provided")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if c.ChunkWindowLines <= 0 {
		return fmt.Errorf("chunk window must be positive")
	}
	if c.ChunkOverlapLines < 0 || c.ChunkOverlapLines >= c.ChunkWindowLines {
		return fmt.Errorf("chunk overlap must be in [0, window)")
	}
	switch c.VectorStoreDriver {
	case "pgvector", "memory":
	default:
		return fmt.Errorf("unsupported vector store driver %q", c.VectorStoreDriver)
	}
	if c.IndexingWorkers <= 0 {
		return fmt.Errorf("indexing workers must be positive")
	}
	if c.SeedEnabled && strings.TrimSpace(c.SeedToken) == "" {
		return fmt.Errorf("seed token must be provided when seeding is enabled")
	}
	return nil
}
