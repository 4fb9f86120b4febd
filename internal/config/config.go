// Package config provides configuration management for the mail credential
// vault and dispatch service. Values are loaded from environment variables
// with sensible defaults and validated before the application starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./crm_mailer.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//
// Redis Configuration (optional, enables the distributed rate limiter):
//   - REDIS_ADDRESS: Redis server address (empty disables Redis)
//   - REDIS_PASSWORD, REDIS_DB: Redis credentials
//
// OAuth Provider Configuration (all required):
//   - GOOGLE_CLIENT_ID: OAuth2 client identifier
//   - GOOGLE_CLIENT_SECRET: OAuth2 client secret (server-side only)
//   - OAUTH_REDIRECT_URL: Callback URL registered with the provider
//
// Security Configuration:
//   - JWT_SECRET: JWT signing secret (required, minimum 32 characters)
//   - VAULT_ENCRYPTION_KEY: Key material for the credential vault (required)
//
// Rate Limiting:
//   - SEND_RATE_LIMIT: Max provider send calls per account per window (default: 30)
//   - SEND_RATE_WINDOW: Send rate window (default: 60s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the service. Validate must be
// called before use; missing required values are startup errors, never
// silent fallbacks.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Database configuration
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string // SQLite file path
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration; empty address means Redis is disabled and the
	// in-memory rate limiter is used
	RedisAddress  string
	RedisPassword string
	RedisDB       string

	// OAuth provider configuration
	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string

	// Security configuration
	JWTSecret          string
	VaultEncryptionKey string

	// Outbound send throttle, applied per linked account
	SendRateLimit  string
	SendRateWindow string
}

// Load creates a Config with values from environment variables. Call
// Validate on the result before using it.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./crm_mailer.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "crm_mailer"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		OAuthRedirectURL:   getEnv("OAUTH_REDIRECT_URL", ""),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		VaultEncryptionKey: getEnv("VAULT_ENCRYPTION_KEY", ""),

		SendRateLimit:  getEnv("SEND_RATE_LIMIT", "30"),
		SendRateWindow: getEnv("SEND_RATE_WINDOW", "60s"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks that required fields are present and all values are
// well-formed. The application must refuse to start on any error.
func (c *Config) Validate() error {
	if c.GoogleClientID == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID environment variable is required")
	}
	if c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_SECRET environment variable is required")
	}
	if c.OAuthRedirectURL == "" {
		return fmt.Errorf("OAUTH_REDIRECT_URL environment variable is required")
	}
	if c.VaultEncryptionKey == "" {
		return fmt.Errorf("VAULT_ENCRYPTION_KEY environment variable is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
	}

	if limit, err := strconv.Atoi(c.SendRateLimit); err != nil || limit < 1 {
		return fmt.Errorf("SEND_RATE_LIMIT must be a positive number")
	}
	if _, err := time.ParseDuration(c.SendRateWindow); err != nil {
		return fmt.Errorf("SEND_RATE_WINDOW must be a valid duration (e.g., '60s', '1m')")
	}

	return nil
}

// SendRate returns the parsed per-account send throttle. Validate must
// succeed before calling.
func (c *Config) SendRate() (int, time.Duration) {
	limit, _ := strconv.Atoi(c.SendRateLimit)
	window, _ := time.ParseDuration(c.SendRateWindow)
	return limit, window
}
