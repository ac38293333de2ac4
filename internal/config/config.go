// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// GitHub settings
	GitHubToken         string
	GitHubOrg           string
	GitHubWebhookSecret string

	// Slack settings
	SlackBotToken      string
	SlackSigningSecret string

	// Seed data: comma-separated "ghUser:slackId" pairs
	UserMappings string

	// Store settings
	DatabasePath string

	// Server settings
	Port                  string
	GinMode               string
	LogLevel              string
	ServerReadTimeout     time.Duration
	ServerWriteTimeout    time.Duration
	ServerShutdownTimeout time.Duration

	// Processing settings
	WebhookProcessingTimeout time.Duration
	RetryMaxAttempts         int
	RetryBaseDelay           time.Duration
}

// Load reads configuration from the environment, consulting a .env file
// first when present. Returns an error if required configuration is missing
// or invalid.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		GitHubOrg:           os.Getenv("GITHUB_ORG"),
		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret:  os.Getenv("SLACK_SIGNING_SECRET"),
		UserMappings:        os.Getenv("USER_MAPPINGS"),

		DatabasePath: getEnvDefault("DATABASE_PATH", "data/pr-tracker.db"),

		Port:     getEnvDefault("PORT", "8080"),
		GinMode:  getEnvDefault("GIN_MODE", "debug"),
		LogLevel: getEnvDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.ServerReadTimeout, err = getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ServerWriteTimeout, err = getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ServerShutdownTimeout, err = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookProcessingTimeout, err = getEnvDuration("WEBHOOK_PROCESSING_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = getEnvDuration("RETRY_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = getEnvInt("RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks that all required configuration is present and valid.
func (c *Config) validate() error {
	required := map[string]string{
		"GITHUB_TOKEN":          c.GitHubToken,
		"GITHUB_ORG":            c.GitHubOrg,
		"GITHUB_WEBHOOK_SECRET": c.GitHubWebhookSecret,
		"SLACK_BOT_TOKEN":       c.SlackBotToken,
		"SLACK_SIGNING_SECRET":  c.SlackSigningSecret,
	}
	var missing []string
	for name, value := range required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	if c.GinMode != "debug" && c.GinMode != "release" && c.GinMode != "test" {
		return fmt.Errorf("invalid GIN_MODE: %s (must be debug, release, or test)", c.GinMode)
	}
	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warn" && c.LogLevel != "error" {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.ServerReadTimeout <= 0 || c.ServerWriteTimeout <= 0 || c.ServerShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.WebhookProcessingTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_PROCESSING_TIMEOUT must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive")
	}
	return nil
}

// getEnvDefault gets an environment variable with a default value.
func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value for %s: %s", key, value)
	}
	return d, nil
}

// getEnvInt gets an integer environment variable with a default value.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}
	return n, nil
}
