package app

import (
	"context"
	"fmt"

	"area-engine/internal/common/logging"
	"area-engine/internal/server"
)

// Run starts the background loops and the HTTP server, then blocks until ctx
// is cancelled or the server fails. Shutdown is graceful in both cases.
func (app *App) Run(ctx context.Context) error {
	if err := app.Execution.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start execution service: %w", err)
	}
	if app.Config.PollAutostart {
		for _, p := range app.Pollers {
			if err := p.Start(app.ctx); err != nil {
				app.Logger.Warn("Failed to start poller", logging.String("provider", p.Provider()), logging.Err(err))
			}
		}
	}

	srv := server.New(app.Router(), app.Config.Port, "", "", app.Logger)
	if err := srv.Start(); err != nil {
		app.shutdown(nil)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	app.Logger.Info("AREA engine started",
		logging.String("port", app.Config.Port),
		logging.String("public_url", app.Config.PublicURL),
	)

	var runErr error
	select {
	case <-ctx.Done():
		app.Logger.Info("Shutting down")
	case runErr = <-srv.Errors():
	}

	if err := app.shutdown(srv); err != nil && runErr == nil {
		runErr = err
	}
	app.Logger.Info("AREA engine stopped")
	return runErr
}

func (app *App) shutdown(srv *server.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			app.Logger.Error("Server forced to shutdown", err)
			firstErr = err
		}
	}
	if err := app.Shutdown(ctx); err != nil && firstErr == nil {
		app.Logger.Error("Error during app shutdown", err)
		firstErr = err
	}
	return firstErr
}
