package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	m *metrics.Metrics,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinMode != gin.ReleaseMode {
		router.Use(gin.Logger())
	}

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	if m != nil {
		router.Use(m.Middleware())
	}
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality: 5,
		Skipper: middleware.SkipPaths("/metrics", "/ws/"),
	}))

	// Health check.
	router.GET("/health", handlers.System.Health)
	if m != nil {
		router.GET("/metrics", m.Handler())
	}

	// ─── 1. Student Attempt Group (JWT + Rate Limited) ─────────────────
	student := router.Group("/api/v1/student")
	student.Use(middleware.RequireStudentJWT(authService))
	if limiter != nil {
		student.Use(limiter.Middleware())
	}
	student.Use(middleware.NoStore())
	{
		attempt := student.Group("/papers/:paper_id/attempt")
		attempt.POST("", handlers.Attempt.StartAttempt)
		attempt.GET("", handlers.Attempt.GetAttempt)
		attempt.DELETE("", handlers.Attempt.LeaveAttempt)
		attempt.PUT("/answers/:question_id", handlers.Attempt.SaveAnswer)
		attempt.POST("/navigate", handlers.Attempt.Navigate)
		attempt.POST("/submit", handlers.Attempt.SubmitAttempt)
	}

	// ─── 2. WebSocket Group (token via query) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentJWT(authService))
	{
		ws.GET("/student/papers/:paper_id/stream", handlers.WS.AttemptStream)
	}

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	return router
}
