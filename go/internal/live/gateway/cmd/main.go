package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/dartslive/go/internal/live/config"
	"github.com/mcdev12/dartslive/go/internal/live/gateway"
	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
	"github.com/mcdev12/dartslive/go/internal/live/outbox"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(getEnv("LIVE_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := matchstate.NewStore(
		matchstate.WithStartingScore(cfg.Match.StartingScore),
		matchstate.WithStrictAssignment(cfg.Match.StrictAssignment),
	)

	deps := gateway.Deps{
		Store:     store,
		Publisher: outbox.LogPublisher{},
		Counters:  outbox.NewCounters(),
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		var js jetstream.JetStream
		nc, js, err = outbox.Connect(cfg.NATS.URL, "live-gateway", -1, 2*time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()

		jsCfg := outbox.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.StreamName
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		publisher, err := outbox.NewNATSPublisher(ctx, js, jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create NATS publisher")
		}
		deps.Publisher = publisher
		deps.JetStream = js
	} else {
		log.Warn().Msg("NATS_URL not set, persistence hand-off is logged only")
	}

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.WriteTimeout = cfg.WebSocket.WriteTimeout
	gatewayConfig.ConnectionConfig.ReadTimeout = cfg.WebSocket.ReadTimeout
	gatewayConfig.ConnectionConfig.PingInterval = cfg.WebSocket.PingInterval
	gatewayConfig.ConnectionConfig.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	gatewayConfig.ConnectionConfig.SendBufferSize = cfg.WebSocket.SendBufferSize
	gatewayConfig.ConnectionConfig.CheckOrigin = originChecker(cfg.Server.AllowedOrigins)
	gatewayConfig.OutboxConfig = outbox.Config{
		QueueSize:  cfg.Outbox.QueueSize,
		MaxRetries: cfg.Outbox.MaxRetries,
		RetryDelay: cfg.Outbox.RetryDelay,
	}
	gatewayConfig.JetStreamConfig.StreamName = cfg.NATS.ControlStream
	gatewayConfig.JetStreamConfig.SubjectFilter = cfg.NATS.ControlSubject
	gatewayConfig.JetStreamConfig.ConsumerName = cfg.NATS.ConsumerName

	gatewayService, err := gateway.NewService(ctx, gatewayConfig, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	server := setupServer(cfg, gatewayService, nc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Int("starting_score", cfg.Match.StartingScore).
			Bool("strict_assignment", cfg.Match.StrictAssignment).
			Bool("nats", nc != nil).
			Msg("live gateway starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gateway service did not stop in time")
	}

	log.Info().Msg("live gateway shutdown complete")
}

func setupServer(cfg *config.Config, svc *gateway.Service, nc *nats.Conn) *http.Server {
	mux := http.NewServeMux()

	svc.RegisterRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if nc != nil && !nc.IsConnected() {
			http.Error(w, "NATS disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// originChecker mirrors the CORS allow-list for websocket upgrades.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
