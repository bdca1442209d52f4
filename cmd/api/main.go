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
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/analytics"
	"github.com/plan-agent/backend/internal/api/handlers"
	"github.com/plan-agent/backend/internal/cache/redis"
	"github.com/plan-agent/backend/internal/ingestion"
	"github.com/plan-agent/backend/internal/inspection"
	"github.com/plan-agent/backend/internal/llm"
	"github.com/plan-agent/backend/internal/metrics"
	"github.com/plan-agent/backend/internal/middleware/ratelimit"
	"github.com/plan-agent/backend/internal/middleware/security"
	"github.com/plan-agent/backend/internal/middleware/validation"
	"github.com/plan-agent/backend/internal/render"
	"github.com/plan-agent/backend/internal/retrieval"
	"github.com/plan-agent/backend/internal/router"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/internal/vector/milvus"
	"github.com/plan-agent/backend/internal/vision"
	"github.com/plan-agent/backend/pkg/config"
	appLogger "github.com/plan-agent/backend/pkg/logger"
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

	appLogger.Info("Starting Plan Agent API Server")

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.EnsureCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	redisClient, err := redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	llmClient := llm.NewClient(cfg.LLM, cfg.Vision)

	metrics.Init()

	renderer := render.NewHTTPRenderer(cfg.Render)
	pipeline := vision.NewPipeline(sqliteClient, renderer, llmClient, cfg.Vision)
	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient)

	directLookup := retrieval.NewDirectLookup(sqliteClient)
	vectorSearch := retrieval.NewStationAwareSearch(milvusClient, llmClient, redisClient, cfg.Scoring)
	completeData := retrieval.NewCompleteSystemData(sqliteClient)
	inspector := inspection.NewInspector(sqliteClient)

	analyticsLogger := analytics.NewLogger(sqliteClient, 256)

	queryRouter := router.New(
		directLookup,
		vectorSearch,
		completeData,
		inspector,
		analyticsLogger,
		redisClient,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		WindowDuration:       time.Minute,
		Logger:               appLogger.GetLogger(),
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxQueryLength:      2000,
		AllowedContentTypes: []string{"application/json"},
		Logger:              appLogger.GetLogger(),
	}))

	hub := handlers.NewProgressHub()

	queryHandler := handlers.NewQueryHandler(queryRouter, sqliteClient)
	documentHandler := handlers.NewDocumentHandler(processor, redisClient)
	visionHandler := handlers.NewVisionHandler(pipeline, hub, redisClient)
	systemDataHandler := handlers.NewSystemDataHandler(sqliteClient, completeData)
	wsHandler := handlers.NewWebSocketHandler(queryRouter, hub)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/analytics", queryHandler.GetQueryAnalytics)

	api.Post("/documents", documentHandler.UploadDocument)

	api.Post("/vision/process", visionHandler.ProcessDocument)
	api.Post("/vision/process-batch", visionHandler.ProcessBatch)
	api.Post("/vision/process-sheet", visionHandler.ProcessSheet)
	api.Get("/vision/status/:documentID", visionHandler.GetStatus)

	api.Get("/system-data", systemDataHandler.GetSystemData)
	api.Get("/termination-points", systemDataHandler.GetTerminationPoints)
	api.Get("/crossings", systemDataHandler.GetUtilityCrossings)
	api.Get("/sheets/:sheetNumber/quantities", systemDataHandler.GetSheetQuantities)
	api.Get("/extent", systemDataHandler.GetProjectExtent)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(wsHandler.HandleQuery))
	app.Get("/ws/vision/:documentID", websocket.New(wsHandler.HandleVisionProgress))

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
	rateLimiter.Stop()
	analyticsLogger.Close()
	appLogger.Info("Server stopped")
}
