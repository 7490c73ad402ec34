package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/homelink/pkg/app"
	"github.com/urmzd/homelink/pkg/db"
	homelinkmcp "github.com/urmzd/homelink/pkg/mcp"
)

func main() {
	// Logging must go to stderr; stdout is the MCP transport
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/homelink/homelink.db)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	log.Info().Str("path", database.Path()).Msg("Database opened")

	if err := database.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Bootstrap if needed (first run)
	needsBootstrap, err := database.NeedsBootstrap(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to check bootstrap status")
	}
	if needsBootstrap {
		log.Info().Msg("First run detected, bootstrapping database...")
		if err := database.Bootstrap(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to bootstrap database")
		}
	}

	cfg, err := database.ActiveConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	svc, err := app.Build(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build connectivity service")
	}
	defer svc.Stop()

	if err := svc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start connectivity service")
	}

	mcpServer := homelinkmcp.NewServer(svc.Manager)

	log.Info().Msg("Starting MCP server on stdio")

	if err := mcpServer.ServeStdio(); err != nil {
		log.Error().Err(err).Msg("MCP server failed")
	}
}
