package api

import (
	"github.com/gin-gonic/gin"

	"github.com/driveline/driveline/internal/export"
	"github.com/driveline/driveline/internal/jobs"
	"github.com/driveline/driveline/internal/pipeline"
	"github.com/driveline/driveline/internal/store"
	"github.com/driveline/driveline/pkg/config"
	"github.com/driveline/driveline/pkg/metrics"
	"github.com/driveline/driveline/pkg/tracing"
)

// Deps carries everything the HTTP surface needs
type Deps struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Store        store.Store
	Queue        *jobs.Queue
	Metrics      *metrics.Metrics
	Tracing      *tracing.TracingService
	Health       map[string]HealthChecker
}

// NewRouter creates and configures the API router
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(RecoveryMiddleware())
	router.Use(CORSMiddleware())
	router.Use(SecurityHeadersMiddleware())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}

	healthHandler := NewHealthHandler(deps.Health)
	router.GET("/health", healthHandler.Health)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	strategyHandler := NewStrategyHandler(deps.Orchestrator, deps.Store, deps.Queue, export.NewService())
	jobsHandler := NewJobsHandler(deps.Queue)

	apiGroup := router.Group("/api")
	{
		strategy := apiGroup.Group("/strategy")
		{
			strategy.POST("/generate", strategyHandler.Generate)
			strategy.POST("/refresh", strategyHandler.Refresh)
			strategy.GET("/:id", strategyHandler.Get)
			strategy.GET("/:id/export", strategyHandler.Export)
		}

		jobsGroup := apiGroup.Group("/jobs")
		{
			jobsGroup.GET("/metrics", jobsHandler.Metrics)
			jobsGroup.GET("/:id", jobsHandler.Get)
		}
	}

	return router
}
