package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/notifier"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/router"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
	"github.com/stemsi/exstem-assessment/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	bootLog := logger.Component(log, "bootstrap")
	bootLog.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Bool("jwt", cfg.JWTSecret != "").
		Msg("Starting assessment session engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Completion Notifiers ──────────────────────────────────────────
	notifiers := notifier.Fanout{notifier.NewRedisNotifier(rdb)}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notifier.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			// Reporting is best-effort; keep serving students without it.
			bootLog.Error().Err(err).Msg("RabbitMQ unavailable, completion events go to Redis only")
		} else {
			defer amqpNotifier.Close()
			notifiers = append(notifiers, amqpNotifier)
		}
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	testRepo := repository.NewTestRepository(pool)
	accountRepo := repository.NewAccountRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	judgeRepo := repository.NewJudgeRepository(pool)
	autosaveRepo := repository.NewAutosaveRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	timeouts := scheduler.New(scheduler.Options{
		RetryDelay: cfg.TimeoutRetryDelay,
		MaxRetries: cfg.TimeoutMaxRetries,
		FireBudget: cfg.TimeoutFireBudget,
	}, log)

	catalogService := service.NewCatalogService(testRepo, rdb, cfg.CatalogCacheTTL, log)
	autosaveService := service.NewAutosaveService(rdb, autosaveRepo, log)
	lifecycle := service.NewSessionLifecycleService(
		sessionRepo,
		catalogService,
		service.NewIdentityService(accountRepo),
		service.NewScoringEngine(judgeRepo, log),
		autosaveService,
		timeouts,
		notifiers,
		service.LifecycleOptions{
			StartGrace:    cfg.StartGrace,
			NotifyTimeout: cfg.NotifyTimeout,
		},
		log,
	)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load today's tests into Redis before accepting traffic.
	if n, err := catalogService.Prewarm(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		bootLog.Warn().Err(err).Msg("Cache prewarm failed")
	} else {
		bootLog.Info().Int("tests", n).Msg("Catalog cache prewarmed")
	}

	// ─── Recover Session Timers ───────────────────────────────────────
	// Timers live in memory only; rebuild them from every in-progress session.
	if _, err := timeouts.Start(ctx, lifecycle, sessionRepo); err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to recover session timers")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	autosaveWorker := worker.NewAutosaveWorker(rdb, autosaveRepo, log)
	workerDone := make(chan struct{})
	go func() {
		autosaveWorker.Start(workerCtx)
		close(workerDone)
	}()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		TestSession: handler.NewTestSessionHandler(lifecycle, log),
		WS:          handler.NewWSHandler(lifecycle, rdb, log, cfg.AllowedOrigins),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}, timeouts),
		System: handler.NewSystemHandler(rdb, timeouts, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		bootLog.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			bootLog.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	bootLog.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		bootLog.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Disarm timers; in-progress sessions are re-armed on next start.
	timeouts.Stop()

	// 3. Let pending completion notifications finish.
	lifecycle.WaitNotifications()

	// 4. Stop background workers and wait for the queue to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		bootLog.Warn().Msg("Autosave worker did not drain in time")
	}

	bootLog.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
