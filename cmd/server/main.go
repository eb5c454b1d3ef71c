package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/api"
	"github.com/RohitAchyutuni/PlanGenie/internal/chatapi"
	"github.com/RohitAchyutuni/PlanGenie/internal/config"
	"github.com/RohitAchyutuni/PlanGenie/internal/handlers"
	"github.com/RohitAchyutuni/PlanGenie/internal/store"
	"github.com/RohitAchyutuni/PlanGenie/internal/thread"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Thread storage: postgres when configured, sqlite otherwise
	var threads store.ThreadStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pg.Close()
		threads = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sq.Close()
		threads = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite storage")
	}

	// Redis cache (optional)
	var cache *store.RedisCache
	if cfg.RedisURL != "" {
		var err error
		cache, err = store.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer cache.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Assistant backend client and the session controller
	backend := chatapi.NewClient(cfg.AssistantURL, logger)
	ctrl := thread.NewController(threads, cache, backend, logger)
	ctrl.Notify = func(err error) {
		logger.Warn().Err(err).Msg("assistant stream reported an error")
	}

	// Background sweep: archive threads idle past the configured window
	if cfg.ArchiveAfterDays > 0 {
		c := cron.New()
		c.AddFunc("@hourly", func() {
			sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			archiveStale(sweepCtx, logger, threads, cfg.ArchiveAfterDays)
		})
		c.Start()
		defer c.Stop()
		logger.Info().Int("days", cfg.ArchiveAfterDays).Msg("stale thread sweep enabled")
	}

	h := handlers.NewHandler(threads, cache, ctrl, logger)
	router := api.NewRouter(logger, h, cache, cfg.RateLimitWhitelist)

	// WriteTimeout stays zero: message relays are long-lived SSE responses.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("assistant", cfg.AssistantURL).
			Msg("starting PlanGenie gateway")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// archiveStale archives unarchived threads whose last update is older than
// the cutoff.
func archiveStale(ctx context.Context, logger zerolog.Logger, threads store.ThreadStore, days int) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	ids, err := threads.ListInactiveSince(ctx, cutoff)
	if err != nil {
		logger.Error().Err(err).Msg("stale thread sweep failed")
		return
	}
	for _, id := range ids {
		if err := threads.ArchiveThread(ctx, id, true); err != nil {
			logger.Warn().Err(err).Str("thread_id", id).Msg("failed to archive thread")
			continue
		}
		logger.Info().Str("thread_id", id).Msg("archived stale thread")
	}
}
