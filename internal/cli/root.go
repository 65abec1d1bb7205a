// Package cli is the area-engine command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"area-engine/internal/config"
)

// RootOptions holds flags shared by all commands. Set flags override the
// environment.
type RootOptions struct {
	EnvFile      string
	LogLevel     string
	DatabaseType string
	DatabasePath string
	RedisAddress string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "area-engine",
		Short:         "AREA event engine",
		Long:          "Ingests provider events by polling and webhooks, matches them against user mappings and runs the mapped reactions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.StringVar(&opts.DatabaseType, "database-type", "", "database type (sqlite|postgres)")
	flags.StringVar(&opts.DatabasePath, "database-path", "", "SQLite database file")
	flags.StringVar(&opts.RedisAddress, "redis-address", "", "Redis address; empty keeps shared state in memory")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	return cmd
}

// loadConfig reads the env file and environment, then applies set flags.
func (o *RootOptions) loadConfig(cmd *cobra.Command) *config.Config {
	if o.EnvFile != "" {
		config.LoadEnvFile(o.EnvFile)
	}
	if cmd.Flags().Changed("log-level") {
		os.Setenv("LOG_LEVEL", o.LogLevel)
	}

	cfg := config.FromEnv()
	if cmd.Flags().Changed("database-type") {
		cfg.DatabaseType = o.DatabaseType
	}
	if cmd.Flags().Changed("database-path") {
		cfg.DatabasePath = o.DatabasePath
	}
	if cmd.Flags().Changed("redis-address") {
		cfg.RedisAddress = o.RedisAddress
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	return cfg
}
