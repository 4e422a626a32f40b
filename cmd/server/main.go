package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/client"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/messaging"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/storage"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// backendTokenTTL bounds the learner tokens minted for remote backend calls.
const backendTokenTTL = 5 * time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Int("block_threshold", cfg.BlockThreshold).
		Msg("Starting ExStem Proctor")

	if err := cfg.Proctor.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid proctor thresholds")
	}

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

	// ─── Optional Evidence Store (MinIO) ───────────────────────────────
	var evidence service.EvidenceUploader
	if cfg.MinIO.Endpoint != "" {
		store, err := storage.NewEvidenceStore(cfg.MinIO)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create evidence store")
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.MinIO.Bucket).Msg("Evidence bucket unavailable, stills stay inline")
		} else {
			evidence = store
			log.Info().Str("bucket", cfg.MinIO.Bucket).Msg("Evidence store ready")
		}
	}

	// ─── Optional Violation Broker (RabbitMQ) ──────────────────────────
	var broker service.ViolationBroker
	if cfg.RabbitMQ.URL != "" {
		publisher, err := messaging.NewViolationPublisher(cfg.RabbitMQ)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable, violation events stay on Redis only")
		} else {
			defer publisher.Close()
			broker = publisher
			log.Info().Str("queue", cfg.RabbitMQ.Queue).Msg("Violation publisher ready")
		}
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	violationRepo := repository.NewViolationRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	attempts := repository.NewAttemptCache(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	violationService := service.NewViolationService(violationRepo, progressRepo, evidence, broker, rdb, cfg.BlockThreshold, log)
	progressService := service.NewProgressService(progressRepo, rdb, cfg.BlockThreshold, log)
	testService := service.NewTestService(testRepo, rdb, log)

	// The engine talks to a remote backend when one is configured, and to
	// the in-process services otherwise.
	var backend proctor.Backend = service.NewLocalBackend(violationService, progressService)
	if cfg.BackendURL != "" {
		backend = client.NewBackendClient(cfg.BackendURL, cfg.BackendTimeout,
			func(_ context.Context, studentID string) (string, error) {
				return authService.IssueToken(service.TokenTypeLearner, studentID, "", backendTokenTTL)
			})
		log.Info().Str("url", cfg.BackendURL).Msg("Using remote violation backend")
	}

	registry := proctor.NewRegistry(attempts, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Proctor:   handler.NewProctorHandler(testService, registry, backend, attempts, profileRepo, cfg, log),
		Violation: handler.NewViolationHandler(violationService, log),
		Progress:  handler.NewProgressHandler(progressService, log),
		Monitor:   handler.NewMonitorHandler(rdb, violationService, registry, log),
		System:    handler.NewSystemHandler(rdb, registry, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	progressWorker := worker.NewProgressWorker(rdb, progressService, log)
	go func() {
		defer close(workerDone)
		progressWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg)

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

	// 1. Stop accepting new HTTP requests (5s timeout). Hijacked WebSocket
	// connections are not tracked by Shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close live proctored sessions so elapsed time is saved.
	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer sessionCancel()
	registry.Shutdown(sessionCtx)

	// 3. Stop background workers and wait for the progress queue to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Progress worker drain timed out")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
