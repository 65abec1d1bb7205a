package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"area-engine/internal/common/logging"
	"area-engine/internal/handlers"
	"area-engine/internal/middleware"
	"area-engine/internal/ratelimit"
	"area-engine/internal/webhooks"
)

func (app *App) initializeHTTP() error {
	app.Webhooks = webhooks.NewHandler(webhooks.Config{
		GitHubSecret:       app.Config.GitHubWebhookSecret,
		SlackSigningSecret: app.Config.SlackSigningSecret,
	}, app.Storage, app.Dispatcher, app.Cache, app.Logger)

	app.API = handlers.New(app.ctx, app.Services, app.Storage, app.Auth, app.Logger)
	for _, p := range app.Pollers {
		app.API.AddPoller(p)
	}
	if app.Twitch != nil {
		app.API.SetTwitch(app.Twitch)
	}
	app.API.SetGitHub(app.GitHub)

	app.API.AddHealthCheck("storage", app.Storage.Health)
	if app.RedisClient != nil {
		app.API.AddHealthCheck("redis", app.RedisClient.Health)
	}
	if app.Broker != nil {
		app.API.AddHealthCheck("broker", app.Broker.Health)
	}
	return nil
}

// Router builds the HTTP handler tree.
func (app *App) Router() http.Handler {
	var counter ratelimit.Counter
	if app.RedisClient != nil {
		counter = ratelimit.NewRedisCounter(app.RedisClient)
	}
	limiter := ratelimit.NewLimiter(counter, ratelimit.Config{
		Limit:  app.Config.RateLimitRequests,
		Window: app.Config.RateLimitWindow,
	}, app.Logger)

	router := mux.NewRouter()
	router.Use(middleware.Recover(app.Logger))
	router.Use(middleware.Logging(app.Logger))

	app.Webhooks.RegisterRoutes(router, limiter.HTTPMiddleware(ratelimit.IPBasedKey))
	app.API.RegisterRoutes(router, limiter.HTTPMiddleware(ratelimit.UserBasedKey))

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Not found"}`))
	})

	app.Logger.Info("Routes registered", logging.Field{Key: "rate_limit", Value: app.Config.RateLimitRequests})
	return router
}
