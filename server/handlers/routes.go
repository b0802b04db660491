package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/rigwatch/server/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	AllowedOrigins []string
	MaxRequestSize int64
	RequestTimeout time.Duration
	Ready          func() bool
}

// NewRouter builds the HTTP surface: the telemetry socket, the REST API
// and health checks.
func NewRouter(cfg RouterConfig, api *APIHandler, hub *TelemetryHub, auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	router.GET("/health", middleware.HealthCheck("rigwatch", cfg.Ready))

	// The socket outlives any request timeout.
	router.GET("/ws", limiter.RateLimit(), hub.HandleWebSocket)

	v1 := router.Group("/api/v1")
	v1.Use(Timing())
	v1.Use(middleware.RequestSizeLimit(cfg.MaxRequestSize))
	v1.Use(middleware.InputValidation())
	v1.Use(middleware.TimeoutHandler(cfg.RequestTimeout))
	v1.Use(limiter.RateLimit())
	{
		v1.GET("/health", middleware.HealthCheck("rigwatch", cfg.Ready))

		v1.GET("/telemetry/latest", api.Latest)
		v1.GET("/telemetry/history", api.History)
		v1.GET("/telemetry/trends", api.Trends)
		v1.POST("/control", api.Control)
		v1.GET("/stats", api.Stats)

		v1.POST("/sessions", api.Login)

		authed := v1.Group("/")
		authed.Use(auth.RequireAuth())
		{
			authed.POST("/sessions/logout", api.Logout)
			authed.GET("/sessions/:id", api.GetSession)
		}

		admin := v1.Group("/admin")
		admin.Use(auth.RequireAuth(), auth.RequireRole("admin"))
		{
			admin.GET("/limits", func(c *gin.Context) {
				respond(c, http.StatusOK, limiter.GetGlobalStats())
			})
		}
	}

	return router
}
