// Package sqlite opens the engine's storage on a SQLite file.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"area-engine/internal/storage/sqlstore"
)

// Config locates the database file.
type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

// DefaultConfig returns the local development database.
func DefaultConfig() *Config {
	return &Config{DatabasePath: "./area_engine.db"}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		action_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		source TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'received',
		created_at DATETIME NOT NULL,
		processed_at DATETIME
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
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mappings_action ON mappings (action_type, is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_mappings_provider ON mappings (action_provider, created_by)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		user_id TEXT NOT NULL,
		token_type TEXT NOT NULL,
		token_value TEXT NOT NULL,
		expires_at DATETIME,
		scopes TEXT NOT NULL DEFAULT '[]',
		is_revoked BOOLEAN NOT NULL DEFAULT 0,
		revoked_at DATETIME,
		revoked_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
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
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
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
		executed_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reactions_event ON reactions (event_id)`,
}

// Dialect is the SQLite flavour of the shared store.
var Dialect = sqlstore.Dialect{Name: "sqlite", Migrations: migrations}

// NewAdapter opens the database, enables WAL and migrates the schema.
func NewAdapter(config *Config) (*sqlstore.Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// go-sqlite3 serializes writers; one connection avoids SQLITE_BUSY under the poller's fan-out.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
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
