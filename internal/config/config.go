// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // base directory for the audit database
	Port     int
	LogLevel string
	DevMode  bool

	// Correlation monitor tuning
	CorrelationWindow  int     // per-account outcome ring buffer capacity
	WarningThreshold   float64 // alert ladder
	CriticalThreshold  float64
	EmergencyThreshold float64

	// Background jobs
	RefreshSchedule string // cron spec for correlation refresh
	CleanupSchedule string // cron spec for history cleanup
	RetentionHours  int    // history/alert age cutoff for cleanup

	// Decision pipeline
	RandomSeed int64 // 0 = time-seeded
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DISSENT_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Port:               getEnvAsInt("PORT", 8002),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		CorrelationWindow:  getEnvAsInt("CORRELATION_WINDOW", 100),
		WarningThreshold:   getEnvAsFloat("CORRELATION_WARNING", 0.60),
		CriticalThreshold:  getEnvAsFloat("CORRELATION_CRITICAL", 0.70),
		EmergencyThreshold: getEnvAsFloat("CORRELATION_EMERGENCY", 0.80),
		RefreshSchedule:    getEnv("REFRESH_SCHEDULE", "@every 1m"),
		CleanupSchedule:    getEnv("CLEANUP_SCHEDULE", "@hourly"),
		RetentionHours:     getEnvAsInt("RETENTION_HOURS", 168),
		RandomSeed:         int64(getEnvAsInt("RANDOM_SEED", 0)),
	}

	if cfg.WarningThreshold >= cfg.CriticalThreshold || cfg.CriticalThreshold >= cfg.EmergencyThreshold {
		return nil, fmt.Errorf("correlation thresholds must be strictly increasing: %.2f/%.2f/%.2f",
			cfg.WarningThreshold, cfg.CriticalThreshold, cfg.EmergencyThreshold)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
