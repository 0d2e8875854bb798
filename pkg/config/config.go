package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Environment string
	ServerPort  int
	LogLevel    string

	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabaseSSLMode  string

	RedisURL string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// AdminAPIKey gates the administrative provisioning and diagnostics
	// endpoints. Empty disables them entirely.
	AdminAPIKey string

	DefaultPlanSlug string
	TenantCacheTTL  time.Duration
	SweepInterval   time.Duration

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present; real environment variables
// win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	accessTTL, err := time.ParseDuration(getEnv("ACCESS_TOKEN_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid ACCESS_TOKEN_TTL: %w", err)
	}

	refreshTTL, err := time.ParseDuration(getEnv("REFRESH_TOKEN_TTL", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TOKEN_TTL: %w", err)
	}

	cacheTTL, err := time.ParseDuration(getEnv("TENANT_CACHE_TTL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TENANT_CACHE_TTL: %w", err)
	}

	sweepInterval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}

	return &Config{
		Environment:      getEnv("ENVIRONMENT", "development"),
		ServerPort:       port,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseHost:     getEnv("DB_HOST", "localhost"),
		DatabasePort:     dbPort,
		DatabaseUser:     getEnv("DB_USER", "cliniccore"),
		DatabasePassword: getEnv("DB_PASSWORD", "dev"),
		DatabaseName:     getEnv("DB_NAME", "cliniccore"),
		DatabaseSSLMode:  getEnv("DB_SSLMODE", "disable"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		AccessTokenTTL:   accessTTL,
		RefreshTokenTTL:  refreshTTL,
		AdminAPIKey:      getEnv("ADMIN_API_KEY", ""),
		DefaultPlanSlug:  getEnv("DEFAULT_PLAN", "free"),
		TenantCacheTTL:   cacheTTL,
		SweepInterval:    sweepInterval,
		CORSAllowedOrigins: []string{
			"http://localhost:5173",
			"http://localhost:3000",
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
