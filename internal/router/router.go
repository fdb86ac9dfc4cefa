package router

import (
	"net/http"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/handler"
	"github.com/edupulse/proctor-backend/internal/middleware"
	"github.com/edupulse/proctor-backend/internal/response"
	"github.com/edupulse/proctor-backend/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Violation reports can arrive in bursts from misbehaving detectors;
	// cap them per IP without touching the rest of the session routes.
	violationLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/proctor/login", handlers.Auth.ProctorLogin)
		auth.GET("/proctor/me", middleware.RequireProctorJWT(authService), handlers.Auth.GetProctorProfile)
	}

	// ─── 2. Session Group (Subject JWT) ────────────────────────────────
	sessionAPI := router.Group("/api/v1/sessions")
	sessionAPI.Use(middleware.RequireSubjectJWT(authService))
	{
		sessionAPI.POST("/start", handlers.Session.Start)
		sessionAPI.GET("/:id/state", handlers.Session.GetState)
		sessionAPI.POST("/:id/answers", handlers.Session.RecordAnswer)
		sessionAPI.POST("/:id/navigate", handlers.Session.Navigate)
		sessionAPI.POST("/:id/violations", violationLimiter.Middleware(), handlers.Session.ReportViolation)
		sessionAPI.POST("/:id/submit", handlers.Session.Submit)
		sessionAPI.POST("/:id/leave", handlers.Session.Leave)
	}

	// ─── 3. WebSocket Group (Subject WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSubjectWSAuth(authService))
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Proctor Group (Proctor JWT) ────────────────────────────────
	proctorAPI := router.Group("/api/v1/proctor")
	proctorAPI.Use(middleware.RequireProctorJWT(authService))
	{
		proctorAPI.GET("/assessments/:id/monitor", handlers.Monitor.MonitorAssessmentSSE)
	}

	return router
}
