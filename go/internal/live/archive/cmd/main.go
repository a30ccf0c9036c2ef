package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/archive"
	"github.com/mcdev12/dartslive/go/internal/live/config"
	"github.com/mcdev12/dartslive/go/internal/live/outbox"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(getEnv("LIVE_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetupLogging(cfg.Log)

	if cfg.NATS.URL == "" {
		log.Fatal().Msg("NATS_URL is required for the archive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = pool.Ping(pingCtx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	repo := archive.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare archive schema")
	}

	nc, js, err := outbox.Connect(cfg.NATS.URL, "live-archive", -1, 2*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	consumerCfg := archive.DefaultConsumerConfig()
	consumerCfg.StreamName = cfg.NATS.StreamName
	consumerCfg.SubjectFilter = cfg.NATS.SubjectPrefix + ".>"

	consumer, err := archive.NewConsumer(ctx, js, archive.NewRecorder(repo), consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create archive consumer")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", archive.NewHealthChecker(consumer, pool, nc.IsConnected))
	server := &http.Server{
		Addr:              getEnv("ARCHIVE_HEALTH_ADDR", ":8082"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	log.Info().
		Str("stream", consumerCfg.StreamName).
		Str("subject", consumerCfg.SubjectFilter).
		Str("health_addr", server.Addr).
		Msg("live archive starting")

	if err := consumer.Start(ctx); err != nil {
		log.Error().Err(err).Msg("archive consumer failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}

	log.Info().Msg("live archive shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
