package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/router"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
	"github.com/stemsi/exstem-assessment/internal/worker"
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
		Msg("Starting assessment engine")

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
	retry := database.RetryPolicy{Attempts: cfg.StoreRetryAttempts, Backoff: cfg.StoreRetryBackoff}

	attemptRepo := repository.NewAttemptRepository(pool, retry)
	testRepo := repository.NewTestRepository(pool, retry)
	questionRepo := repository.NewQuestionRepository(pool, retry)
	questionSetRepo := repository.NewQuestionSetRepository(pool, retry)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	catalog := service.NewTestCatalog(testRepo, rdb, cfg.TestCacheTTL, log)
	publisher := service.NewRedisEventPublisher(rdb, log)

	tracker := service.NewTimeTracker(cfg.HeartbeatMaxDelta, nil)
	selector := service.NewQuestionSelector(questionSetRepo, nil)
	recorder := service.NewAnswerRecorder(attemptRepo, tracker)
	monitor := service.NewAntiCheatMonitor(attemptRepo, service.IntegrityPolicy{
		Threshold:         cfg.WarningThreshold,
		TerminateOnBreach: cfg.TerminateOnBreach,
	})

	sessions := service.NewSessionManager(attemptRepo, catalog, questionRepo, selector, tracker, recorder, monitor, publisher, log)
	grading := service.NewGradingService(attemptRepo, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	warningLimiter := middleware.NewRateLimiter(ctx, cfg.WarningRatePerSec, cfg.WarningRateBurst)

	handlers := &router.Handlers{
		Attempt:      handler.NewAttemptHandler(sessions, log),
		StaffAttempt: handler.NewStaffAttemptHandler(sessions, grading, catalog, log),
		Monitor:      handler.NewMonitorHandler(rdb, catalog, sessions, log),
		WS:           handler.NewWSHandler(sessions, warningLimiter, log, cfg.AllowedOrigins),
		Health:       handler.NewHealthHandler(pool, rdb),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	integrityWorker := worker.NewIntegrityEventWorker(pool, rdb, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		integrityWorker.Start(workerCtx)
	}()

	expiryWorker := worker.NewExpiryWorker(sessions, cfg.ExpirySweepSchedule, cfg.ExpirySweepBatch, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := expiryWorker.Start(workerCtx); err != nil {
			log.Fatal().Err(err).Msg("Expiry worker failed to start")
		}
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, warningLimiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	// 2. Stop background workers and wait for the integrity buffer to flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}
