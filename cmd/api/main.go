package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/homelink/pkg/api"
	"github.com/urmzd/homelink/pkg/app"
	"github.com/urmzd/homelink/pkg/db"

	_ "github.com/urmzd/homelink/docs"
)

// @title           Homelink API
// @version         1.0
// @description     Connectivity health and recovery API for home automation interfaces

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/homelink/homelink.db)")
	seedPath := flag.String("seed", "", "YAML seed file imported before startup")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, cfg := loadConfig(ctx, *dbPath, *seedPath)
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	svc, err := app.Build(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build connectivity service")
	}
	defer svc.Stop()

	if err := svc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start connectivity service")
	}

	router := api.NewRouter(svc.Manager, svc.Manager.Bus(), svc.Registry)

	addr := cfg.APIAddress()
	log.Info().Str("address", addr).Msg("Starting API server")

	if err := router.Serve(ctx, addr); err != nil {
		log.Error().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Shutting down...")
}

// loadConfig opens and prepares the database, then returns the active
// configuration.
func loadConfig(ctx context.Context, dbPath, seedPath string) (*db.DB, *db.Config) {
	database, err := db.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

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
		log.Info().Msg("Database bootstrapped successfully")
	}

	if seedPath != "" {
		p, err := database.ImportSeedFile(ctx, seedPath)
		if err != nil {
			log.Fatal().Err(err).Str("seed", seedPath).Msg("Failed to import seed")
		}
		log.Info().Str("seed", seedPath).Str("profile", p.Name).Msg("Seed imported")
	}

	cfg, err := database.ActiveConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("profile", cfg.Profile.Name).
		Str("timezone", cfg.Timezone()).
		Str("api_address", cfg.APIAddress()).
		Strs("interfaces", cfg.InterfaceIDs()).
		Msg("Configuration loaded")

	return database, cfg
}
