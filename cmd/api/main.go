package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/api"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/audit"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/cache"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/config"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/database"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/face"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/metrics"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/pipeline"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/ratelimit"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/repository"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/service"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/webhook"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/ws"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	logger.Info("starting Deepscan API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	sqlDB, err := database.OpenSQL(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.MigrateUp(sqlDB, "deepscan", logger); err != nil {
		_ = sqlDB.Close()
		return err
	}
	_ = sqlDB.Close()

	pool, err := database.NewPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	analysisRepo := repository.NewAnalysisRepository(pool)
	if n, err := analysisRepo.FailInterrupted(ctx); err != nil {
		logger.Error("failed to recover interrupted analyses", slog.Any("error", err))
	} else if n > 0 {
		logger.Warn("marked interrupted analyses as failed", slog.Int64("count", n))
	}

	// Providers
	providers, err := face.NewProviders(ctx, cfg.Providers)
	if err != nil {
		return fmt.Errorf("failed to create providers: %w", err)
	}
	logger.Info("providers configured",
		slog.String("detector", cfg.Providers.DetectorType),
		slog.String("landmarks", cfg.Providers.LandmarkType),
		slog.String("classifier", cfg.Providers.ClassifierType),
	)

	// Background workers
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	webhookService := webhook.NewService(pool, cfg.WebhookSecret, logger)
	webhookWorker := webhook.NewWorker(pool, webhookService, logger)
	go webhookWorker.Run(ctx)

	collector := metrics.NewCollector()
	metricsAggregator := metrics.NewAggregator(metrics.NewRepository(pool), collector, logger, cfg.MetricsInterval)
	go metricsAggregator.Start(ctx)

	similarCache := cache.NewPGCache(pool)
	go similarCache.RunCleanup(ctx, 10*time.Minute, logger)

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx, 5*time.Minute)

	analysisService := service.NewAnalysisService(
		analysisRepo,
		providers,
		pipeline.OptionsFromConfig(cfg.Pipeline),
		cfg.UploadDir,
	).
		WithHub(hub, cfg.Pipeline.PreviewFPS).
		WithNotifier(webhookService).
		WithMetrics(collector).
		WithAudit(audit.NewSlogLogger(logger)).
		WithCache(similarCache, cfg.SimilarCacheTTL).
		WithLogger(logger)

	// Setup router
	router := api.NewRouter(logger, &api.Dependencies{
		Analyses:      analysisService,
		Hub:           hub,
		DB:            pool,
		Limiter:       limiter,
		APIKey:        cfg.APIKey,
		MaxUploadSize: cfg.MaxUploadSize,
		Version:       version,
	})
	router.Setup()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := router.Shutdown(); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
	if err := analysisService.Shutdown(shutdownCtx); err != nil {
		logger.Error("analyses did not stop in time", slog.Any("error", err))
	}

	webhookWorker.Stop()
	metricsAggregator.Stop()

	logger.Info("server stopped")
	return nil
}
