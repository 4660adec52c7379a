package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/examapi"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/router"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	"github.com/stemsi/exstem-cbt/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("instance_id", cfg.InstanceID).
		Str("upstream", cfg.UpstreamBaseURL).
		Msg("Starting ExStem CBT gateway")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// ─── Metrics ───────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ─── Initialize Repositories ───────────────────────────────────────
	lockRepo := repository.NewAttemptLockRepository(rdb, cfg.InstanceID, cfg.AttemptLockTTL)
	journalRepo := repository.NewJournalRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	upstream := examapi.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout)
	journalQueue := worker.NewJournalQueue(rdb, cfg.InstanceID, log)
	attemptService := service.NewAttemptService(
		cfg,
		service.ClientFactory(upstream),
		lockRepo,
		service.NewAttemptHub(log),
		journalQueue,
		m,
		clock.RealClock{},
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, cfg.PreAttemptPath, log),
		WS:      handler.NewWSHandler(attemptService, cfg.PreAttemptPath, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(rdb, pool, attemptService, cfg.InstanceID, log),
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiter, m, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Run Server and Workers ────────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	journalWorker := worker.NewJournalWorker(journalRepo, rdb, m.JournalWritten, log)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		journalWorker.Start(workerCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(srv, attemptService, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	// Stop the journal worker last so the final attempt events are persisted.
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Journal worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// shutdown stops accepting requests, then closes every attempt session so
// their locks are released for other instances.
func shutdown(srv *http.Server, attempts *service.AttemptService, log zerolog.Logger) {
	log.Info().Msg("Shutting down gracefully...")

	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	sessCtx, cancelSess := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSess()
	if err := attempts.Shutdown(sessCtx); err != nil {
		log.Error().Err(err).Msg("Attempt sessions did not stop in time")
	}
}
