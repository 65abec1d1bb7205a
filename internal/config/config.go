// Package config loads the engine's settings from the environment.
//
// A .env file in the working directory is read first when present; variables
// already set in the environment win. Every setting has a default suitable for
// a single-replica development setup, and Validate checks cross-field
// requirements before the engine starts.
//
// Environment Variables:
//
// Application:
//   - PORT: HTTP port (default: 8080)
//   - PUBLIC_URL: externally reachable base URL for webhook callbacks
//   - LOG_LEVEL, LOG_FILE: logging
//
// Database:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite file (default: ./area_engine.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis (empty REDIS_ADDRESS disables Redis):
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//
// Event broker:
//   - EVENT_BROKER: "none", "redis" or "rabbitmq" (default: none)
//   - RABBITMQ_URL, EVENT_STREAM
//
// Security:
//   - JWT_SECRET: internal API signing secret (at least 32 characters)
//   - CONFIG_ENCRYPTION_KEY: passphrase sealing stored credentials
//
// Polling and execution:
//   - POLL_INTERVAL, POLL_MIN_REQUEST_INTERVAL, POLL_CHUNK_SIZE,
//     POLL_USER_CACHE_TTL, POLL_STATE_BACKEND ("memory" or "redis"),
//     POLL_AUTOSTART (default: true)
//   - EXECUTION_SCHEDULE (cron spec), EXECUTION_BATCH_SIZE
//   - RATE_LIMIT_REQUESTS per RATE_LIMIT_WINDOW and client (0 disables)
//
// Providers:
//   - TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET
//   - REDDIT_CLIENT_ID, REDDIT_CLIENT_SECRET
//   - GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET, GITHUB_WEBHOOK_SECRET
//   - SLACK_CLIENT_ID, SLACK_CLIENT_SECRET, SLACK_SIGNING_SECRET
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Port      string
	PublicURL string
	LogLevel  string
	LogFile   string

	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	EventBroker string
	RabbitMQURL string
	EventStream string

	JWTSecret     string
	EncryptionKey string

	PollInterval           time.Duration
	PollMinRequestInterval time.Duration
	PollChunkSize          int
	PollUserCacheTTL       time.Duration
	PollStateBackend       string
	PollAutostart          bool

	ExecutionSchedule  string
	ExecutionBatchSize int

	RateLimitRequests int
	RateLimitWindow   time.Duration

	TwitchClientID      string
	TwitchClientSecret  string
	RedditClientID      string
	RedditClientSecret  string
	GitHubClientID      string
	GitHubClientSecret  string
	GitHubWebhookSecret string
	SlackClientID       string
	SlackClientSecret   string
	SlackSigningSecret  string
}

// LoadEnvFile sets variables from a dotenv file without overriding the
// environment. A missing file is ignored.
func LoadEnvFile(path string) {
	_ = godotenv.Load(path)
}

// FromEnv builds a Config from the environment only.
func FromEnv() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		PublicURL: strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", ""),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./area_engine.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getIntEnv("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "area_engine"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		EventBroker: getEnv("EVENT_BROKER", "none"),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
		EventStream: getEnv("EVENT_STREAM", "area-events"),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("CONFIG_ENCRYPTION_KEY", ""),

		PollInterval:           getDurationEnv("POLL_INTERVAL", 5*time.Second),
		PollMinRequestInterval: getDurationEnv("POLL_MIN_REQUEST_INTERVAL", 2*time.Second),
		PollChunkSize:          getIntEnv("POLL_CHUNK_SIZE", 3),
		PollUserCacheTTL:       getDurationEnv("POLL_USER_CACHE_TTL", 5*time.Second),
		PollStateBackend:       getEnv("POLL_STATE_BACKEND", "memory"),
		PollAutostart:          getBoolEnv("POLL_AUTOSTART", true),

		ExecutionSchedule:  getEnv("EXECUTION_SCHEDULE", "@every 5s"),
		ExecutionBatchSize: getIntEnv("EXECUTION_BATCH_SIZE", 10),

		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		TwitchClientID:      getEnv("TWITCH_CLIENT_ID", ""),
		TwitchClientSecret:  getEnv("TWITCH_CLIENT_SECRET", ""),
		RedditClientID:      getEnv("REDDIT_CLIENT_ID", ""),
		RedditClientSecret:  getEnv("REDDIT_CLIENT_SECRET", ""),
		GitHubClientID:      getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret:  getEnv("GITHUB_CLIENT_SECRET", ""),
		GitHubWebhookSecret: getEnv("GITHUB_WEBHOOK_SECRET", ""),
		SlackClientID:       getEnv("SLACK_CLIENT_ID", ""),
		SlackClientSecret:   getEnv("SLACK_CLIENT_SECRET", ""),
		SlackSigningSecret:  getEnv("SLACK_SIGNING_SECRET", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv returns defaultValue for unset or unparsable values.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("5s") or plain seconds ("5").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

// Validate checks required values and cross-field dependencies.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_URL must be an absolute URL")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.RedisEnabled() {
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	switch c.EventBroker {
	case "none", "":
	case "redis":
		if !c.RedisEnabled() {
			return fmt.Errorf("EVENT_BROKER=redis requires REDIS_ADDRESS")
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			return fmt.Errorf("EVENT_BROKER=rabbitmq requires RABBITMQ_URL")
		}
	default:
		return fmt.Errorf("EVENT_BROKER must be 'none', 'redis' or 'rabbitmq'")
	}

	switch c.PollStateBackend {
	case "memory":
	case "redis":
		if !c.RedisEnabled() {
			return fmt.Errorf("POLL_STATE_BACKEND=redis requires REDIS_ADDRESS")
		}
	default:
		return fmt.Errorf("POLL_STATE_BACKEND must be 'memory' or 'redis'")
	}

	if c.PollInterval <= 0 || c.PollMinRequestInterval <= 0 || c.PollUserCacheTTL <= 0 {
		return fmt.Errorf("poll intervals must be positive durations")
	}
	if c.PollChunkSize < 1 {
		return fmt.Errorf("POLL_CHUNK_SIZE must be a positive number")
	}
	if _, err := cron.ParseStandard(c.ExecutionSchedule); err != nil {
		return fmt.Errorf("EXECUTION_SCHEDULE is not a valid cron spec: %w", err)
	}
	if c.ExecutionBatchSize < 1 {
		return fmt.Errorf("EXECUTION_BATCH_SIZE must be a positive number")
	}
	if c.RateLimitRequests < 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative and RATE_LIMIT_WINDOW must be positive")
	}

	if (c.TwitchClientID == "") != (c.TwitchClientSecret == "") {
		return fmt.Errorf("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET must be set together")
	}
	if (c.RedditClientID == "") != (c.RedditClientSecret == "") {
		return fmt.Errorf("REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET must be set together")
	}
	return nil
}
