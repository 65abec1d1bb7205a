package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"area-engine/internal/app"
	"area-engine/internal/common/logging"
)

func NewMigrateCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.loadConfig(cmd)
			logging.InitGlobalLogger()
			defer logging.MustSync()

			store, err := app.OpenStorage(cfg, logging.GetGlobalLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
