package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VenueBaseURL is the base URL of the yield venue's REST API.
	VenueBaseURL string
	// VenueAccount is the account the venue credits deposits to and debits withdrawals from.
	VenueAccount string

	// OperatorToken authorizes the administrative endpoints (pause/resume/retry).
	OperatorToken string

	// MinTotalLiquidity is the dust threshold; positions below it are never rebalanced.
	MinTotalLiquidity int64
	// MaxDiscrepancy is the accounting-validation tolerance, absorbing venue rounding.
	MaxDiscrepancy int64

	// SweepInterval is how often the stuck-position recovery sweep runs.
	SweepInterval time.Duration
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VenueBaseURL, err = getEnv("VENUE_BASE_URL")
	if err != nil {
		return err
	}

	VenueAccount, err = getEnv("VENUE_ACCOUNT")
	if err != nil {
		return err
	}

	OperatorToken, err = getEnv("OPERATOR_TOKEN")
	if err != nil {
		return err
	}

	MinTotalLiquidity, err = getEnvAsInt64Or("MIN_TOTAL_LIQUIDITY", 1000)
	if err != nil {
		return err
	}

	MaxDiscrepancy, err = getEnvAsInt64Or("MAX_DISCREPANCY", 10)
	if err != nil {
		return err
	}

	sweepMinutes, err := getEnvAsInt64Or("SWEEP_INTERVAL_MINUTES", 10)
	if err != nil {
		return err
	}
	if sweepMinutes <= 0 {
		return errors.New("environment variable SWEEP_INTERVAL_MINUTES must be positive, got: " + strconv.FormatInt(sweepMinutes, 10))
	}
	SweepInterval = time.Duration(sweepMinutes) * time.Minute

	log.Debug().
		Str("VenueBaseURL", VenueBaseURL).
		Int64("MinTotalLiquidity", MinTotalLiquidity).
		Int64("MaxDiscrepancy", MaxDiscrepancy).
		Dur("SweepInterval", SweepInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt64Or retrieves an environment variable as an int64, falling back
// to the given default when unset. Returns error if set but invalid.
func getEnvAsInt64Or(key string, defaultValue int64) (int64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}
