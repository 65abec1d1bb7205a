// Package app wires the engine together: storage, Redis, credentials,
// provider registries, the reddit poller, webhook intake, dispatch and the
// HTTP API.
package app

import (
	"context"
	"time"

	"area-engine/internal/auth"
	"area-engine/internal/brokers"
	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/cache"
	"area-engine/internal/common/logging"
	"area-engine/internal/config"
	"area-engine/internal/credentials"
	"area-engine/internal/crypto"
	"area-engine/internal/dispatch"
	"area-engine/internal/executors"
	"area-engine/internal/handlers"
	"area-engine/internal/locks"
	"area-engine/internal/oauth2"
	"area-engine/internal/poller"
	"area-engine/internal/redis"
	"area-engine/internal/services"
	"area-engine/internal/storage/sqlstore"
	"area-engine/internal/subscriptions"
	"area-engine/internal/webhooks"
)

// App holds all the application dependencies.
type App struct {
	Config      *config.Config
	Storage     *sqlstore.Store
	RedisClient *redis.Client
	Broker      brokers.Broker
	Cache       cache.Cache
	Locker      locks.Locker
	Auth        *auth.Auth
	Cipher      *crypto.TokenCipher

	OAuthManager *oauth2.Manager
	Credentials  *credentials.Store
	Breakers     *circuitbreaker.Manager
	Services     *services.Registry
	Executors    *executors.Registry

	Dispatcher *dispatch.Dispatcher
	Execution  *dispatch.Service
	Pollers    []*poller.Poller
	Webhooks   *webhooks.Handler
	API        *handlers.Handlers

	Twitch *subscriptions.TwitchManager
	GitHub *subscriptions.GitHubManager

	Logger logging.Logger
	// ctx outlives requests; background loops run on it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the application. Storage is opened and migrated; optional parts
// (Redis, broker, provider clients) are skipped when not configured.
func New(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
		ctx:    ctx,
		cancel: cancel,
	}

	steps := []func() error{
		app.initializeStorage,
		app.initializeRedis,
		app.initializeSecurity,
		app.initializeCredentials,
		app.initializeBroker,
		app.initializeServices,
		app.initializeDispatch,
		app.initializePollers,
		app.initializeSubscriptions,
		app.initializeHTTP,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			app.Cleanup()
			return nil, err
		}
	}
	return app, nil
}

// Shutdown stops background work, waiting for in-flight dispatches.
func (app *App) Shutdown(ctx context.Context) error {
	app.cancel()

	for _, p := range app.Pollers {
		if p.IsRunning() {
			if err := p.Stop(ctx); err != nil {
				app.Logger.Warn("Failed to stop poller", logging.String("provider", p.Provider()), logging.Err(err))
			}
		}
	}
	if app.Execution != nil {
		if err := app.Execution.Stop(ctx); err != nil {
			app.Logger.Warn("Failed to stop execution service", logging.Err(err))
		}
	}

	if app.Webhooks != nil {
		done := make(chan struct{})
		go func() {
			app.Webhooks.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Cleanup releases connections. It is safe after a partial New.
func (app *App) Cleanup() {
	app.cancel()
	if app.Broker != nil {
		if err := app.Broker.Close(); err != nil {
			app.Logger.Warn("Failed to close broker", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
	if app.Storage != nil {
		app.Storage.Close()
	}
}

const shutdownTimeout = 30 * time.Second
