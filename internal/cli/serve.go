package cli

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"area-engine/internal/app"
	"area-engine/internal/common/logging"
)

type serveOptions struct {
	port      string
	noPollers bool
}

func NewServeCommand(root *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine: pollers, webhook intake, execution service and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.loadConfig(cmd)
			if cmd.Flags().Changed("port") {
				cfg.Port = opts.port
			}
			if opts.noPollers {
				cfg.PollAutostart = false
			}

			logging.InitGlobalLogger()
			defer logging.MustSync()

			logging.Info("Starting AREA engine", logging.Field{Key: "cpus", Value: runtime.NumCPU()})
			if err := cfg.Validate(); err != nil {
				logging.Error("Configuration validation failed", err)
				return err
			}

			a, err := app.New(cfg)
			if err != nil {
				logging.Error("Failed to initialize application", err)
				return err
			}
			defer a.Cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&opts.port, "port", "p", "8080", "HTTP port")
	cmd.Flags().BoolVar(&opts.noPollers, "no-pollers", false, "do not start pollers at boot")
	return cmd
}
