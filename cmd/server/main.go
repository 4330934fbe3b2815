package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/steamlens/steamlens-go/internal/api"
	"github.com/steamlens/steamlens-go/internal/cache"
	"github.com/steamlens/steamlens-go/internal/config"
	"github.com/steamlens/steamlens-go/internal/database"
	"github.com/steamlens/steamlens-go/internal/ingestion"
	"github.com/steamlens/steamlens-go/internal/logging"
	"github.com/steamlens/steamlens-go/internal/observability"
	"github.com/steamlens/steamlens-go/internal/services"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	logger.LogStartup("steamlens", "1.0.0", cfg.Server.Port)

	shutdownTracing, err := observability.InitTracing(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	resultTTL, err := time.ParseDuration(cfg.Cache.ResultTTL)
	if err != nil {
		resultTTL = time.Hour
	}
	resultCache := cache.NewResultCache(redis.Client, resultTTL)

	gameRepo := database.NewGameRepository(db.Pool)
	factRepo := database.NewFactRepository(db.Pool)
	analysisRepo := database.NewAnalysisRepository(db.Pool)

	analysisService := services.NewAnalysisService(analysisRepo, factRepo, resultCache, cfg.Analytics)

	requestTimeout, err := time.ParseDuration(cfg.Ingestion.RequestTimeout)
	if err != nil {
		requestTimeout = 15 * time.Second
	}
	httpClient := ingestion.NewClient(ingestion.ClientOptions{
		Timeout:           requestTimeout,
		RequestsPerSecond: cfg.Ingestion.RequestsPerSecond,
		MaxRetries:        cfg.Ingestion.MaxRetries,
	})
	ingestService := services.NewIngestService(
		ingestion.NewSteamSpyClient(httpClient, cfg.Ingestion.SteamSpyURL),
		ingestion.NewChartsClient(httpClient, cfg.Ingestion.SteamChartsURL),
		ingestion.NewStoreClient(httpClient, cfg.Ingestion.StoreAPIURL),
		gameRepo, factRepo, analysisRepo, cfg.Ingestion,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := services.NewScheduler(ingestService, analysisService, cfg.Ingestion)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	api.SetupRoutes(router, api.Dependencies{
		DB:           db,
		Redis:        redis,
		Games:        gameRepo,
		History:      factRepo,
		Analytics:    analysisService,
		Ingestion:    ingestService,
		Cache:        resultCache,
		AccessLogger: logging.NewAccessLogger(cfg.LogLevel, cfg.Environment),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.LogShutdown("steamlens", "signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Let in-flight analyses finish writing their results.
	analysisService.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Failed to flush traces: %v", err)
	}
}
