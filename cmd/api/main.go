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
	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/api/handlers"
	"github.com/skinocare/backend/internal/cache/redis"
	"github.com/skinocare/backend/internal/lookup"
	"github.com/skinocare/backend/internal/metrics"
	"github.com/skinocare/backend/internal/middleware/ratelimit"
	"github.com/skinocare/backend/internal/middleware/security"
	"github.com/skinocare/backend/internal/middleware/validation"
	"github.com/skinocare/backend/internal/ml"
	"github.com/skinocare/backend/internal/report"
	"github.com/skinocare/backend/internal/session"
	"github.com/skinocare/backend/internal/storage/sqlite"
	"github.com/skinocare/backend/pkg/config"
	appLogger "github.com/skinocare/backend/pkg/logger"
	"github.com/skinocare/backend/pkg/retry"
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

	appLogger.Info("Starting SkinOCare API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = appLogger.GetLogger()

	err = retry.Do(context.Background(), retryCfg, sqliteClient.Ping)
	if err != nil {
		appLogger.Fatal("Failed to reach SQLite database", zap.Error(err))
	}

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var predictionCache ml.PredictionCache
	if cfg.Redis.Enabled {
		var redisClient *redis.Client
		err = retry.Do(context.Background(), retryCfg, func() error {
			var err error
			redisClient, err = redis.NewClient(
				cfg.Redis.Host,
				cfg.Redis.Port,
				cfg.Redis.Password,
				cfg.Redis.DB,
				time.Duration(cfg.Redis.TTLSec)*time.Second,
			)
			return err
		})
		if err != nil {
			// The cache is an optimization; run without it.
			appLogger.Warn("Failed to connect to Redis, prediction cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			predictionCache = redisClient
		}
	}

	lookupService := lookup.NewService(sqliteClient, cfg.Dataset.Path)
	mlClient := ml.NewClient(cfg.ML.BaseURL, time.Duration(cfg.ML.TimeoutSec)*time.Second, predictionCache)

	sessionManager := session.NewManager(
		cfg.Session.MaxImages,
		cfg.Session.MaxImageKB,
		time.Duration(cfg.Session.IdleTTLSec)*time.Second,
	)
	defer sessionManager.Close()

	assembler := report.NewAssembler(report.Config{
		ProductName: cfg.Report.ProductName,
		Title:       cfg.Report.Title,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(validation.Middleware(validation.Config{
		MaxUploadBytes: cfg.Server.BodyLimit,
		Logger:         appLogger.GetLogger(),
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	typeHandler := handlers.NewTypeHandler(lookupService)
	analysisHandler := handlers.NewAnalysisHandler(
		sessionManager,
		mlClient,
		lookupService,
		assembler,
		cfg.Report.Filename,
	)

	// Legacy path layout, preserved for the frontend.
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(fmt.Sprintf("Application is running on port %d", cfg.Server.Port))
	})
	app.Get("/load", typeHandler.LoadDataset)
	app.Get("/types", typeHandler.GetTypes)
	app.Post("/types", typeHandler.CreateType)
	app.Get("/typeId/:id", typeHandler.GetTypeByID)
	app.Put("/typeId/:id", typeHandler.UpdateTypeByID)
	app.Delete("/typeId/:id", typeHandler.DeleteTypeByID)
	app.Get("/typeName/:name", typeHandler.GetTypeByName)
	app.Get("/api/cancer-types", typeHandler.GetDataset)

	api := app.Group("/api/v1")

	api.Post("/sessions", analysisHandler.CreateSession)
	api.Get("/sessions/:id", analysisHandler.GetSession)
	api.Delete("/sessions/:id", analysisHandler.DeleteSession)
	api.Post("/sessions/:id/images", analysisHandler.UploadImages)
	api.Delete("/sessions/:id/images/:index", analysisHandler.RemoveImage)
	api.Put("/sessions/:id/selection", analysisHandler.SetSelection)
	api.Post("/sessions/:id/images/:index/analyze", analysisHandler.AnalyzeImage)
	api.Post("/sessions/:id/analyze", analysisHandler.AnalyzeAll)
	api.Get("/sessions/:id/report", analysisHandler.GenerateReport)

	api.Get("/ml/health", analysisHandler.MLHealth)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

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
