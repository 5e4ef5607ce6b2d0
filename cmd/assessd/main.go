package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	domainassessment "github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/infrastructure/cache"
	"github.com/compliancekit/assessment-backend/internal/infrastructure/config"
	"github.com/compliancekit/assessment-backend/internal/infrastructure/repository"
	"github.com/compliancekit/assessment-backend/internal/infrastructure/telemetry"
	"github.com/compliancekit/assessment-backend/internal/metrics"
	"github.com/compliancekit/assessment-backend/internal/service/assessment"
)

func main() {
	var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "assessd",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := repository.NewPool(ctx, cfg.Database, logger.Named("database"))
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	var store assessment.ComplianceStore = repository.NewComplianceStore(pool)
	if cfg.Redis.URL != "" {
		client := cache.NewRedisClient(cfg.Redis)
		defer client.Close()
		store = cache.NewCatalogCache(store, client, logger.Named("cache"), cfg.Redis.CatalogTTL)
		logger.Info("catalog cache enabled", zap.Duration("ttl", cfg.Redis.CatalogTTL))
	}

	registry, err := metrics.NewRegistry("assessd")
	if err != nil {
		logger.Fatal("failed to create metrics registry", zap.Error(err))
	}

	service := assessment.NewService(logger.Named("assessment"), store, registry, assessment.ServiceConfig{
		DefaultMode: domainassessment.Mode(cfg.Assessment.DefaultMode),
		CleanupAge:  cfg.Assessment.CleanupAge,
		LaunchRate:  rate.Limit(cfg.Assessment.LaunchRate),
		LaunchBurst: cfg.Assessment.LaunchBurst,
	})

	metricsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:      operationalHandler(pool),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("metrics listener started", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// Periodic housekeeping: evict stale terminal runs and refresh gauges.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				evicted := service.CleanupAssessments(cfg.Assessment.CleanupAge)
				registry.SetActiveAssessments(int64(len(service.GetActiveAssessments())))
				recordCleanup(evicted)
				updatePoolMetrics(pool)
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("assessd started",
		zap.String("environment", cfg.Environment),
		zap.String("default_mode", cfg.Assessment.DefaultMode),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics listener shutdown failed", zap.Error(err))
	}
}
