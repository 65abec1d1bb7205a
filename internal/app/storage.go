package app

import (
	"fmt"

	"area-engine/internal/common/logging"
	"area-engine/internal/config"
	"area-engine/internal/storage/postgres"
	"area-engine/internal/storage/sqlite"
	"area-engine/internal/storage/sqlstore"
)

// OpenStorage opens and migrates the configured database.
func OpenStorage(cfg *config.Config, logger logging.Logger) (*sqlstore.Store, error) {
	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		logger.Info("Database: PostgreSQL",
			logging.Field{Key: "host", Value: cfg.PostgresHost},
			logging.Field{Key: "port", Value: cfg.PostgresPort},
			logging.Field{Key: "database", Value: cfg.PostgresDB},
		)
		return postgres.NewAdapter(&postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			Username: cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	case "sqlite", "":
		logger.Info("Database: SQLite", logging.Field{Key: "path", Value: cfg.DatabasePath})
		return sqlite.NewAdapter(&sqlite.Config{DatabasePath: cfg.DatabasePath})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}

func (app *App) initializeStorage() error {
	store, err := OpenStorage(app.Config, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.Storage = store
	return nil
}
