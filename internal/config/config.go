// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Reasoning service (Anthropic Messages API)
	ReasoningAPIKey  string // Optional; heuristic-only mode when not set
	ReasoningModel   string
	ReasoningBaseURL string
	ReasoningTimeout time.Duration

	// Screening settings
	EscalationThreshold float64 // Risk score above which a run escalates to investigation

	// Demo transaction feed
	FeedInterval time.Duration // 0 disables the feed

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// CORS
	AllowedOrigins []string
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultReasoningModel      = "claude-sonnet-4-20250514"
	DefaultReasoningBaseURL    = "https://api.anthropic.com"
	DefaultReasoningTimeout    = 30 * time.Second
	DefaultEscalationThreshold = 0.4
	DefaultFeedInterval        = 3 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ReasoningAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		ReasoningModel:      getEnv("REASONING_MODEL", DefaultReasoningModel),
		ReasoningBaseURL:    getEnv("REASONING_BASE_URL", DefaultReasoningBaseURL),
		ReasoningTimeout:    getEnvDuration("REASONING_TIMEOUT", DefaultReasoningTimeout),
		EscalationThreshold: getEnvFloat("ESCALATION_THRESHOLD", DefaultEscalationThreshold),
		FeedInterval:        getEnvDuration("FEED_INTERVAL", DefaultFeedInterval),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AllowedOrigins:      []string{getEnv("ALLOWED_ORIGIN", "*")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are coherent
func (c *Config) Validate() error {
	if c.EscalationThreshold < 0 || c.EscalationThreshold > 1 {
		return fmt.Errorf("ESCALATION_THRESHOLD must be in [0,1], got %v", c.EscalationThreshold)
	}
	if c.ReasoningTimeout <= 0 {
		return fmt.Errorf("REASONING_TIMEOUT must be positive, got %v", c.ReasoningTimeout)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
