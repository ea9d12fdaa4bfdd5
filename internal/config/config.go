package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Service configuration
	ListenAddr    string
	PublicBaseURL string
	Debug         bool
	MaxUploadMB   int

	// Storage configuration
	StorageRoot string

	// Ledger configuration
	LedgerBackend string // "file" or "postgres"
	LedgerPath    string
	DatabaseDSN   string

	// Cache configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth configuration
	JWTSecret string

	// Analyzer configuration
	InferenceBaseURL string

	// Device control configuration
	SnapTimeoutSeconds int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		Debug:         getEnvAsBool("DEBUG", false),
		MaxUploadMB:   getEnvAsInt("MAX_UPLOAD_MB", 10),

		StorageRoot: getEnv("STORAGE_ROOT", "./static/images"),

		LedgerBackend: getEnv("LEDGER_BACKEND", "file"),
		LedgerPath:    getEnv("LEDGER_PATH", "./userlist.csv"),
		DatabaseDSN:   getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=snaphub port=5432 sslmode=disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret"),

		InferenceBaseURL: getEnv("INFERENCE_BASE_URL", "http://localhost:8500"),

		SnapTimeoutSeconds: getEnvAsInt("SNAP_TIMEOUT_SECONDS", 10),
	}

	if cfg.LedgerBackend != "file" && cfg.LedgerBackend != "postgres" {
		return nil, fmt.Errorf("unsupported LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
	if cfg.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", cfg.MaxUploadMB)
	}

	return cfg, nil
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// SnapTimeout returns the device-control forwarding timeout.
func (c *Config) SnapTimeout() time.Duration {
	return time.Duration(c.SnapTimeoutSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
