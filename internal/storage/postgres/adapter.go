// Package postgres opens the engine's storage on PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"area-engine/internal/storage/sqlstore"
)

type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("PostgreSQL host is required")
	}
	if c.Port <= 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		return fmt.Errorf("PostgreSQL database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("PostgreSQL username is required")
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	return nil
}

// ConnectionString renders the config as a postgres:// URL.
func (c *Config) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		action_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		source TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'received',
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_status_created ON events (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS mappings (
		id TEXT PRIMARY KEY,
		created_by TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL,
		action_provider TEXT NOT NULL,
		action_config TEXT NOT NULL DEFAULT '{}',
		reaction_type TEXT NOT NULL,
		reaction_config TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mappings_action ON mappings (action_type, is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_mappings_provider ON mappings (action_provider, created_by)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		user_id TEXT NOT NULL,
		token_type TEXT NOT NULL,
		token_value TEXT NOT NULL,
		expires_at TIMESTAMPTZ,
		scopes TEXT NOT NULL DEFAULT '[]',
		is_revoked BOOLEAN NOT NULL DEFAULT FALSE,
		revoked_at TIMESTAMPTZ,
		revoked_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, token_type)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		external_id TEXT NOT NULL DEFAULT '',
		callback_url TEXT NOT NULL,
		secret TEXT NOT NULL,
		watched_event_types TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_external ON subscriptions (provider, external_id)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		mapping_id TEXT NOT NULL,
		reaction_type TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		executed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reactions_event ON reactions (event_id)`,
}

// Dialect is the PostgreSQL flavour of the shared store.
var Dialect = sqlstore.Dialect{Name: "postgres", NumberedPlaceholders: true, Migrations: migrations}

// NewAdapter connects through pgx and migrates the schema.
func NewAdapter(config *Config) (*sqlstore.Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	connConfig, err := pgx.ParseConfig(config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := sqlstore.New(db, Dialect)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}
