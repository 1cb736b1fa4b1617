package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/meridianfi/rlm/internal/config"
	"github.com/meridianfi/rlm/internal/engine"
	"github.com/meridianfi/rlm/internal/ledger"
	"github.com/meridianfi/rlm/internal/logger"
	"github.com/meridianfi/rlm/internal/venue"
	"github.com/meridianfi/rlm/internal/web"
)

// main is the entry point for the RLM daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("RLM Range Liquidity Manager Starting...")

	// Initialize the position ledger (PostgreSQL source of truth).
	dbCfg := ledger.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	pgStore, err := ledger.NewPostgresStore(dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := pgStore.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	var store ledger.Store = pgStore
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		store = ledger.NewCachedStore(pgStore, rdb, 5*time.Minute)
		log.Info().Str("addr", redisAddr).Msg("Redis position cache enabled")
	}
	defer store.Close()

	// --- 2. Engine Assembly ---
	venueClient := venue.NewHTTPClient(config.VenueBaseURL)

	eng, err := engine.NewEngine(engine.Config{
		Store:          store,
		Venue:          venueClient,
		VenueAccount:   config.VenueAccount,
		MinLiquidity:   sdkmath.NewInt(config.MinTotalLiquidity),
		MaxDiscrepancy: sdkmath.NewInt(config.MaxDiscrepancy),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create rebalancing engine")
	}

	// --- 3. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, eng, config.OperatorToken)
	go func() {
		log.Info().Str("port", webPort).Msg("Starting RLM API server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Run Recovery Sweep Loop ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Dur("interval", config.SweepInterval).Msg("Starting recovery sweep loop")
	eng.RunSweepLoop(ctx, config.SweepInterval)

	log.Info().Msg("RLM shut down")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
