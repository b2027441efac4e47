package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/middleware"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	TestSession *handler.TestSessionHandler
	WS          *handler.WSHandler
	Health      *handler.HealthHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the logger and every response can carry it.
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))

	if handlers.Health != nil {
		router.GET("/health", handlers.Health.Health)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if handlers.System != nil {
		system := router.Group("/system")
		{
			system.GET("/stats", handlers.System.Stats)
			system.GET("/stats/stream", handlers.System.StatsStream)
		}
	}

	// Token checks are enabled only when a signing secret is configured;
	// otherwise identity is taken from the route, as in kiosk deployments.
	var auth []gin.HandlerFunc
	if cfg.JWTSecret != "" {
		auth = append(auth, middleware.RequireStudentJWT(cfg.JWTSecret))
	}

	// ─── Test session ──────────────────────────────────────────────────
	api := router.Group("/api/v1/test-session", auth...)
	{
		api.POST("/start", handlers.TestSession.StartSession)

		session := api.Group("/:testId/:studentId")
		{
			session.GET("/eligibility", handlers.TestSession.CheckEligibility)
			session.GET("/current", handlers.TestSession.GetCurrentSection)
			session.POST("/submit", handlers.TestSession.SubmitSection)
			session.PUT("/autosave", handlers.TestSession.Autosave)
			session.GET("/results", handlers.TestSession.GetResults)
		}
	}

	// ─── WebSocket ─────────────────────────────────────────────────────
	if handlers.WS != nil {
		wsGroup := router.Group("/ws/v1/test-session", auth...)
		{
			wsGroup.GET("/:testId/:studentId/stream", handlers.WS.SessionStream)
		}
	}

	return router
}
