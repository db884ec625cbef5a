package delivery

import (
	"time"

	"affsync/internal/delivery/middleware"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type HTTPRouter struct {
	handlers       *HTTPHandlers
	logger         *logger.Logger
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
	requestTimeout time.Duration
}

func NewHTTPRouter(handlers *HTTPHandlers, logger *logger.Logger, metrics *metrics.Metrics, gatherer prometheus.Gatherer, requestTimeout time.Duration) *HTTPRouter {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &HTTPRouter{
		handlers:       handlers,
		logger:         logger,
		metrics:        metrics,
		gatherer:       gatherer,
		requestTimeout: requestTimeout,
	}
}

func (r *HTTPRouter) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.Recovery(r.logger))
	router.Use(middleware.Metrics(r.metrics))
	router.Use(middleware.Timeout(r.requestTimeout))

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	config.AllowHeaders = []string{"Content-Type", "X-Request-ID"}
	config.ExposeHeaders = []string{"X-Request-ID"}

	router.Use(cors.New(config))

	// Health endpoint
	router.GET("/health", r.handlers.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/", r.handlers.GetAPIInfo)
		v1.GET("", r.handlers.GetAPIInfo)

		networks := v1.Group("/networks")
		{
			networks.GET("", r.handlers.ListNetworks)
			networks.POST("/:network/test", r.handlers.TestCredentials)
		}

		connections := v1.Group("/connections")
		{
			connections.PUT("/:id", r.handlers.SaveConnection)
			connections.POST("/:id/test", r.handlers.TestConnection)
			connections.POST("/:id/sync", r.handlers.SyncConnection)
		}

		sync := v1.Group("/sync")
		{
			sync.POST("/run", r.handlers.SyncRun)
			sync.GET("/logs", r.handlers.GetSyncLogs)
			sync.GET("/summary", r.handlers.GetSyncSummary)
		}
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler(r.gatherer))

	return router
}
