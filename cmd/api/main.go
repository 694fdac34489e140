package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/api/handlers"
	"github.com/learncoach/backend/internal/cache/redis"
	"github.com/learncoach/backend/internal/gaplog"
	"github.com/learncoach/backend/internal/knowledge"
	"github.com/learncoach/backend/internal/llm"
	"github.com/learncoach/backend/internal/metrics"
	"github.com/learncoach/backend/internal/middleware/ratelimit"
	"github.com/learncoach/backend/internal/middleware/security"
	"github.com/learncoach/backend/internal/middleware/validation"
	"github.com/learncoach/backend/internal/retrieval/milvus"
	"github.com/learncoach/backend/internal/storage/sqlite"
	"github.com/learncoach/backend/pkg/config"
	appLogger "github.com/learncoach/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting learning coach API server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
	)

	index, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
		llmClient,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer index.Close()

	err = index.EnsureCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, answer caching disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	knowledgeCfg := knowledge.Config{
		ConfidenceThreshold: cfg.Knowledge.ConfidenceThreshold,
		TopK:                cfg.Knowledge.TopK,
		SimilarityThreshold: cfg.Knowledge.SimilarityThreshold,
		MaxContextChars:     cfg.Knowledge.MaxContextChars,
		RetrievalTimeout:    time.Duration(cfg.Knowledge.RetrievalTimeoutSec) * time.Second,
		EstimateTimeout:     time.Duration(cfg.Knowledge.EstimateTimeoutSec) * time.Second,
	}

	composer := knowledge.NewComposer(llmClient, knowledgeCfg.MaxContextChars)
	estimator := knowledge.NewEstimator(llmClient, knowledgeCfg.EstimateTimeout)
	gapLog := gaplog.New(store)
	orchestrator := knowledge.NewOrchestrator(composer, estimator, index, gapLog, knowledgeCfg)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	answerHandler := handlers.NewAnswerHandler(
		orchestrator,
		store,
		cache,
		time.Duration(cfg.Redis.AnswerTTLSec)*time.Second,
	)
	gapHandler := handlers.NewGapHandler(store, cache)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/answer", answerHandler.HandleAnswer)
	api.Get("/answers/history", answerHandler.GetAnswerHistory)

	api.Get("/gaps", gapHandler.ListGaps)
	api.Post("/gaps/:id/resolve", gapHandler.ResolveGap)
	api.Post("/gaps/:id/dismiss", gapHandler.DismissGap)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
