package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/driveline/driveline/internal/alerting"
	"github.com/driveline/driveline/internal/api"
	"github.com/driveline/driveline/internal/feeds"
	"github.com/driveline/driveline/internal/jobs"
	"github.com/driveline/driveline/internal/pipeline"
	"github.com/driveline/driveline/internal/provider"
	"github.com/driveline/driveline/internal/router"
	"github.com/driveline/driveline/internal/store"
	"github.com/driveline/driveline/pkg/config"
	"github.com/driveline/driveline/pkg/logging"
	"github.com/driveline/driveline/pkg/metrics"
	"github.com/driveline/driveline/pkg/tracing"
)

func main() {
	// .env is optional; real deployments configure through the environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "driveline",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	tracingService, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "driveline",
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize alert logger: %v", err)
	}
	alerts := alerting.NewManager(cfg.Alerting, zapLogger)

	db, err := store.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator, err := store.NewMigrator(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	migrator.Close()
	logger.Info("Database ready", "host", cfg.Database.Host, "name", cfg.Database.Name)

	poolTicker := time.NewTicker(15 * time.Second)
	defer poolTicker.Stop()
	go func() {
		for range poolTicker.C {
			stats := db.Stats()
			m.UpdateDatabaseConnections(stats.OpenConnections, stats.Idle, stats.InUse)
		}
	}()

	redis, err := feeds.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Redis connection established", "addr", cfg.RedisAddr())

	registry := provider.NewRegistry(cfg, func(name string, open bool) {
		m.SetCircuitOpen(name, open)
		alerts.CircuitStateChanged(name, open)
	})
	textRouter := router.New(registry, cfg.Router, m)

	queue := jobs.NewQueue(cfg.Jobs, m)
	queue.SetDeadLetterHook(alerts.JobDeadLettered)
	queue.Start()

	runStore := store.NewPostgresStore(db)
	feedFetcher := feeds.NewFetcher(cfg.Feeds, feeds.NewRedisCache(redis), m)
	orchestrator := pipeline.New(textRouter, feedFetcher, runStore, cfg.Pipeline, m, tracingService)

	ginRouter := api.NewRouter(api.Deps{
		Config:       cfg,
		Orchestrator: orchestrator,
		Store:        runStore,
		Queue:        queue,
		Metrics:      m,
		Tracing:      tracingService,
		Health: map[string]api.HealthChecker{
			"database": db,
			"redis":    redis,
		},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      ginRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	queue.Stop()
	if err := tracingService.Shutdown(ctx); err != nil {
		logger.Warn("Tracing shutdown failed", "error", err.Error())
	}

	logger.Info("Server exited")
}
