// Package config provides configuration management functionality.
//
// Two layers: process configuration (paths, credentials, log level) comes
// from environment variables via godotenv; trading behavior comes from
// configs/trading_config.yaml with a closed key set. Unknown yaml keys are a
// load-time error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// TradingMode gates live order placement.
type TradingMode string

const (
	ModePaper TradingMode = "PAPER"
	ModeLive  TradingMode = "LIVE"
)

// Config holds process-level application configuration.
type Config struct {
	DataDir          string // Base directory for stores and caches (always absolute)
	CacheDir         string // OHLCV cache directory (DataDir/cache)
	TradingConfig    string // Path to trading_config.yaml
	WatchlistFile    string // Optional newline-delimited ticker list
	Mode             TradingMode
	BrokerAPIKey     string
	BrokerAPISecret  string
	BrokerRedirect   string // OAuth redirect URI registered with the broker
	BackupBucket     string // Optional S3/R2 bucket for post-market backups
	BackupEndpoint   string // Optional S3-compatible endpoint URL
	PaperBalance     float64
	LogLevel         string
	DevMode          bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("NIVESH_DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cacheDir := getEnv("NIVESH_CACHE_DIR", filepath.Join(absDataDir, "cache"))
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	mode := ModePaper
	if getEnv("NIVESH_TRADING_MODE", "PAPER") == "LIVE" {
		mode = ModeLive
	}

	cfg := &Config{
		DataDir:         absDataDir,
		CacheDir:        cacheDir,
		TradingConfig:   getEnv("NIVESH_TRADING_CONFIG", filepath.Join("configs", "trading_config.yaml")),
		WatchlistFile:   getEnv("NIVESH_WATCHLIST", ""),
		Mode:            mode,
		BrokerAPIKey:    getEnv("UPSTOX_API_KEY", ""),
		BrokerAPISecret: getEnv("UPSTOX_API_SECRET", ""),
		BrokerRedirect:  getEnv("UPSTOX_REDIRECT_URI", ""),
		BackupBucket:    getEnv("NIVESH_BACKUP_BUCKET", ""),
		BackupEndpoint:  getEnv("NIVESH_BACKUP_ENDPOINT", ""),
		PaperBalance:    getEnvAsFloat("NIVESH_PAPER_BALANCE", 1_000_000),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present. Broker credentials
// are optional: without them the system runs on fallback data sources in
// paper mode only.
func (c *Config) Validate() error {
	if c.Mode == ModeLive && (c.BrokerAPIKey == "" || c.BrokerAPISecret == "") {
		return fmt.Errorf("live trading requires UPSTOX_API_KEY and UPSTOX_API_SECRET")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
