// Package config loads process configuration. Three layers, later wins:
// the .env file / environment, the YAML strategy profile, and the
// settings database.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration from the environment.
type Config struct {
	DataDir          string
	Port             int
	LogLevel         string
	DevMode          bool
	BrokerAPIKey     string
	BrokerAPISecret  string
	BrokerBaseURL    string
	FXFallbackURL    string
	ProfilePath      string // YAML strategy profile (optional)
	SelfBaseURL      string // Base URL for the planner self-trigger
}

// Load reads configuration from the environment (.env honored). The data
// directory resolves to an absolute path and is created when missing.
func Load(dataDirOverride string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := dataDirOverride
	if dataDir == "" {
		dataDir = getEnv("HELMSMAN_DATA_DIR", "")
	}
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	port := getEnvAsInt("HELMSMAN_PORT", 8001)
	return &Config{
		DataDir:         absDataDir,
		Port:            port,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		BrokerAPIKey:    getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret: getEnv("BROKER_API_SECRET", ""),
		BrokerBaseURL:   getEnv("BROKER_BASE_URL", "https://tradernet.com/api"),
		FXFallbackURL:   getEnv("FX_FALLBACK_URL", ""),
		ProfilePath:     getEnv("HELMSMAN_PROFILE", ""),
		SelfBaseURL:     getEnv("HELMSMAN_SELF_URL", fmt.Sprintf("http://localhost:%d", port)),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
