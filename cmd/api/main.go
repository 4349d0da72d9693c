package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/codeprobe-api/internal/config"
	"github.com/noah-isme/codeprobe-api/internal/database"
	"github.com/noah-isme/codeprobe-api/internal/handler"
	"github.com/noah-isme/codeprobe-api/internal/logging"
	"github.com/noah-isme/codeprobe-api/internal/middleware"
	"github.com/noah-isme/codeprobe-api/internal/models"
	"github.com/noah-isme/codeprobe-api/internal/repository"
	"github.com/noah-isme/codeprobe-api/internal/router"
	"github.com/noah-isme/codeprobe-api/internal/service"
	"github.com/noah-isme/codeprobe-api/pkg/ai"
	"github.com/noah-isme/codeprobe-api/pkg/chunker"
	"github.com/noah-isme/codeprobe-api/pkg/embedding"
	"github.com/noah-isme/codeprobe-api/pkg/snapshot"
	"github.com/noah-isme/codeprobe-api/pkg/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Service: "codeprobe-api"})

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	db, err := database.ConnectPostgres(startupCtx, cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if cfg.VectorStoreDriver == "pgvector" {
		if err := database.EnableVectorExtension(startupCtx, db); err != nil {
			logger.Fatal().Err(err).Msg("failed to enable pgvector")
		}
	}

	if err := db.WithContext(startupCtx).AutoMigrate(&models.Assessment{}, &models.Submission{}, &models.RepoIndex{}, &models.InterviewQuestion{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient, err := database.ConnectRedis(startupCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL,
			nats.Name(cfg.AppName),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
	}

	store, err := newVectorStore(cfg, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create vector store")
	}

	clients := ai.NewClientProvider(ai.ClientConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL})
	embedder, err := embedding.NewOpenAIEmbedder(clients, embedding.Config{
		Model:         cfg.EmbeddingModel,
		Dimensions:    cfg.EmbeddingDimensions,
		BatchSize:     cfg.EmbeddingBatchSize,
		MaxInputChars: cfg.EmbeddingMaxInputChars,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create embedder")
	}
	writer := ai.NewOpenAIQuestionWriter(clients, ai.OpenAIConfig{
		Model:       cfg.ChatModel,
		MaxTokens:   cfg.ChatMaxTokens,
		Temperature: 0.2,
		Logger:      logger,
	})

	fetcher := snapshot.NewGitHubFetcher(snapshot.Config{
		APIURL:            cfg.GitHubAPIURL,
		Token:             cfg.GitHubToken,
		WorkspaceRoot:     cfg.SnapshotWorkspace,
		MaxArchiveBytes:   cfg.SnapshotMaxBytes,
		MaxExtractedBytes: cfg.SnapshotMaxExtracted,
		Logger:            logger,
	})
	sourceChunker, err := chunker.New(chunker.Options{
		WindowLines:  cfg.ChunkWindowLines,
		OverlapLines: cfg.ChunkOverlapLines,
		MaxFileBytes: cfg.ChunkMaxFileBytes,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chunker")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assessmentRepo := repository.NewAssessmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	repoIndexRepo := repository.NewRepoIndexRepository(db)
	questionRepo := repository.NewInterviewQuestionRepository(db)
	cascadeRepo := repository.NewCascadeRepository(db)

	events := service.NewIndexEventPublisher(natsConn, cfg.EventChannel, logger)
	indexService := service.NewRepoIndexService(submissionRepo, repoIndexRepo, fetcher, sourceChunker, embedder, store, events, service.RepoIndexConfig{
		FetchTimeout:  cfg.FetchTimeout,
		EmbedTimeout:  cfg.EmbedTimeout,
		UpsertTimeout: cfg.UpsertTimeout,
		StaleAfter:    cfg.IndexingStaleAfter,
	}, logger)
	queue := service.NewIndexingQueue(indexService, repoIndexRepo, cfg.IndexingWorkers, logger)

	searchCache := service.NewSearchCache(redisClient, cfg.SearchCacheTTL, logger)
	searchService := service.NewCodeSearchService(submissionRepo, repoIndexRepo, embedder, store, searchCache, service.SearchConfig{
		Defaults: service.SearchOptions{
			TopK:          cfg.SearchTopK,
			MaxChunks:     cfg.SearchMaxChunks,
			MaxChunkChars: cfg.SearchMaxChunkChars,
			MaxTotalChars: cfg.SearchMaxTotalChars,
		},
	}, logger)
	questionService := service.NewInterviewQuestionService(submissionRepo, questionRepo, searchService, writer, validate,
		service.InterviewQuestionConfig{LLMTimeout: cfg.LLMTimeout}, logger)
	submissionService := service.NewSubmissionService(submissionRepo, cascadeRepo, queue, store, validate, logger)
	seedService := service.NewSeedService(assessmentRepo, submissionRepo, cfg.SeedEnabled, cfg.SeedToken, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	authenticate := middleware.JWTProtected(middleware.JWTConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   30 * time.Second,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler:        handler.NewSubmissionHandler(submissionService, logger),
		RepoIndexHandler:         handler.NewRepoIndexHandler(indexService, searchService, validate, logger),
		InterviewQuestionHandler: handler.NewInterviewQuestionHandler(questionService, logger),
		SeedHandler:              handler.NewSeedHandler(seedService, logger),
		JWTMiddleware:            authenticate,
		HealthProbes:             healthProbes(db, redisClient, natsConn),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the queue outlives the signal; waitForShutdown drains it through Close
	if err := queue.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start indexing queue")
	}

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(ctx, app, queue, logger)
}

func newVectorStore(cfg config.Config, db *gorm.DB) (vectorstore.Store, error) {
	if cfg.VectorStoreDriver == "memory" {
		return vectorstore.NewMemoryStore(cfg.VectorIndexName, cfg.EmbeddingDimensions), nil
	}
	return vectorstore.NewPgVectorStore(db, cfg.VectorIndexName, cfg.EmbeddingDimensions, cfg.VectorUpsertBatchSize)
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New(natsConn.Status().String())
			}
			return nil
		}
	}
	return probes
}

func waitForShutdown(ctx context.Context, app *fiber.App, queue service.IndexingQueue, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	// running jobs finish first; their rows would otherwise sit in indexing until StaleAfter
	if err := queue.Close(); err != nil {
		logger.Error().Err(err).Msg("indexing queue shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
