package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/dartslive/go/internal/live/config"
	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
	"github.com/mcdev12/dartslive/go/internal/live/viewer"
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

	code := cfg.Viewer.TournamentCode
	if len(os.Args) > 1 {
		code = os.Args[1]
	}
	if code == "" {
		log.Fatal().Msg("tournament code required: set TOURNAMENT_CODE or pass it as the first argument")
	}

	feed := viewer.NewFeed(code, viewer.NewHTTPFetcher(cfg.Viewer.GatewayURL),
		viewer.WithPollInterval(cfg.Viewer.PollInterval),
		viewer.WithStartingScore(cfg.Match.StartingScore),
		viewer.OnChange(printMatches),
	)

	sub, err := viewer.NewSubscriber(cfg.Viewer.GatewayURL, feed)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create subscriber")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("gateway", cfg.Viewer.GatewayURL).
		Str("ws", sub.URL()).
		Str("tournament_code", code).
		Dur("poll_interval", cfg.Viewer.PollInterval).
		Msg("live viewer starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return sub.Run(gctx) })
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("live viewer stopped with error")
	}

	log.Info().Msg("live viewer shutdown complete")
}

func printMatches(rows []matchstate.Summary) {
	log.Info().Int("live_matches", len(rows)).Msg("live matches changed")
	for _, m := range rows {
		log.Info().
			Str("match_id", m.MatchID).
			Int("leg", m.CurrentLeg).
			Str("player1", playerLabel(m.Player1ID, m.Player1Name)).
			Int("player1_remaining", m.Player1Remaining).
			Int("player1_legs", m.Player1LegsWon).
			Str("player2", playerLabel(m.Player2ID, m.Player2Name)).
			Int("player2_remaining", m.Player2Remaining).
			Int("player2_legs", m.Player2LegsWon).
			Msg("match")
	}
}

func playerLabel(id, name string) string {
	if name != "" {
		return name
	}
	return id
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
