package http

import (
	"github.com/gin-gonic/gin"
	"github.com/shelfsignal/backend/config"
	"github.com/shelfsignal/backend/internal/infrastructure/metrics"
)

// SetupRouter creates and configures the Gin router. m may be nil, in which
// case /metrics is not mounted.
func SetupRouter(cfg *config.Config, handler *Handler, m *metrics.Prometheus) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	if m != nil {
		router.Use(MetricsMiddleware(m))
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/signals/extract", handler.ExtractSignal)
		v1.POST("/products/score", handler.ScoreProduct)
		v1.POST("/observations", handler.RecordObservations)
		v1.POST("/collect", handler.Collect)

		v1.GET("/history/:productId", handler.GetHistory)
		v1.DELETE("/history", handler.ClearHistory)
		v1.GET("/trends", handler.ListTrends)
		v1.GET("/trends/:productId", handler.GetTrend)

		sync := v1.Group("/sync")
		{
			sync.POST("", handler.SyncAll)
			sync.POST("/flush", handler.FlushQueue)
			sync.GET("/queue", handler.ListQueue)
			sync.DELETE("/queue/:id", handler.DiscardQueueItem)
		}
	}

	return router
}
