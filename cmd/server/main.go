package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/database"
	"github.com/edupulse/proctor-backend/internal/handler"
	"github.com/edupulse/proctor-backend/internal/logger"
	"github.com/edupulse/proctor-backend/internal/proctor"
	"github.com/edupulse/proctor-backend/internal/repository"
	"github.com/edupulse/proctor-backend/internal/router"
	"github.com/edupulse/proctor-backend/internal/service"
	"github.com/edupulse/proctor-backend/internal/validator"
	"github.com/edupulse/proctor-backend/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting EduPulse Proctor Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	assessmentRepo := repository.NewAssessmentRepository(pool, rdb, log)
	sessionRepo := repository.NewSessionRepository(pool)
	accountRepo := repository.NewAccountRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	eligibilityService := service.NewEligibilityService(sessionRepo)
	auditService := service.NewAuditService(rdb, log)
	gradingQueue := service.NewGradingQueueService(rdb, log)
	notificationService := service.NewNotificationService(rdb, log)
	monitorService := service.NewMonitorService(rdb, log)

	// ─── Initialize Session Engine ────────────────────────────────────
	manager := proctor.NewManager(cfg.Proctoring, proctor.Collaborators{
		Assessments: assessmentRepo,
		Eligibility: eligibilityService,
		Sessions:    sessionRepo,
		Audit:       auditService,
		Grading:     gradingQueue,
		Notify:      notificationService,
		Monitor:     monitorService,
	}, log)
	sessionService := service.NewSessionService(manager)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, accountRepo, log),
		Session: handler.NewSessionHandler(sessionService, log),
		WS:      handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	violationWorker := worker.NewViolationWorker(pool, rdb, log)
	gradingWorker := worker.NewGradingWorker(pool, rdb, assessmentRepo, log)

	go violationWorker.Start(workerCtx)
	go gradingWorker.Start(workerCtx)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all assessments into Redis BEFORE accepting traffic. This
	// avoids race conditions from lazy loading under thundering herd.
	if err := assessmentRepo.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the session engine. Live sessions keep their state in the
	// violation log and attempt rows; clients reconnect after restart.
	manager.Shutdown()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
