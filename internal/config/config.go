package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	StoreMode string // "postgres" or "memory"
	Database  DatabaseConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// Load reads configuration from .env / environment variables.
func Load() (*Config, error) {
	// Missing .env is fine: plain env vars still apply.
	_ = godotenv.Load()

	cfg := &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		StoreMode: getEnv("STORE_MODE", "postgres"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Username: getEnv("DB_USER", "foliosync"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: getEnv("DB_NAME", "foliosync"),
		},
	}

	if cfg.JWTSecret == "" {
		if cfg.NodeEnv == "production" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret-do-not-use"
	}
	if cfg.StoreMode != "postgres" && cfg.StoreMode != "memory" {
		return nil, fmt.Errorf("invalid STORE_MODE %q (want postgres or memory)", cfg.StoreMode)
	}
	return cfg, nil
}

// ClientConfig holds the sync client's settings.
type ClientConfig struct {
	ServerURL   string
	StatePath   string
	Token       string
	MaxAttempts int
	BaseDelay   time.Duration
	BatchSize   int
	Timeout     time.Duration
}

// LoadClient reads the client configuration from the environment.
func LoadClient() *ClientConfig {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	return &ClientConfig{
		ServerURL:   getEnv("FOLIOSYNC_SERVER", "http://localhost:8080"),
		StatePath:   getEnv("FOLIOSYNC_STATE", home+"/.foliosync/state.json"),
		Token:       os.Getenv("FOLIOSYNC_TOKEN"),
		MaxAttempts: getEnvInt("FOLIOSYNC_MAX_ATTEMPTS", 3),
		BaseDelay:   time.Duration(getEnvInt("FOLIOSYNC_BASE_DELAY_MS", 1000)) * time.Millisecond,
		BatchSize:   getEnvInt("FOLIOSYNC_BATCH_SIZE", 20),
		Timeout:     time.Duration(getEnvInt("FOLIOSYNC_TIMEOUT_MS", 120000)) * time.Millisecond,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
