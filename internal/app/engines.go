package app

import (
	"time"

	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/common/logging"
	"area-engine/internal/dispatch"
	"area-engine/internal/matcher"
	"area-engine/internal/poller"
	"area-engine/internal/providers/reddit"
	"area-engine/internal/subscriptions"
)

func (app *App) initializeDispatch() error {
	var publisher dispatch.Publisher
	if app.Broker != nil {
		publisher = dispatch.NewBrokerPublisher(app.Broker, app.Config.EventStream)
	}

	app.Dispatcher = dispatch.New(
		dispatch.Config{
			ClaimTTL: 24 * time.Hour,
			Env:      map[string]string{"PUBLIC_URL": app.Config.PublicURL},
		},
		app.Storage,
		matcher.New(app.Services, app.Logger),
		app.Executors,
		app.Services,
		app.Credentials,
		app.Cache,
		publisher,
		app.Logger,
	)

	svcConfig := dispatch.DefaultServiceConfig()
	svcConfig.Schedule = app.Config.ExecutionSchedule
	svcConfig.BatchSize = app.Config.ExecutionBatchSize

	svc, err := dispatch.NewService(svcConfig, app.Dispatcher, app.Storage, app.Locker, app.Logger)
	if err != nil {
		return err
	}
	app.Execution = svc
	return nil
}

// initializePollers builds the poller for every provider without push
// delivery. Only reddit polls today.
func (app *App) initializePollers() error {
	httpClient := commonhttp.NewHTTPClient(commonhttp.WithTimeout(30 * time.Second))
	source := reddit.NewSource(httpClient, "", app.Breakers)

	var states poller.StateStore
	if app.Config.PollStateBackend == "redis" && app.RedisClient != nil {
		states = poller.NewRedisStateStore(app.RedisClient, source.Provider())
	}

	p, err := poller.New(poller.Config{
		PollInterval:       app.Config.PollInterval,
		MinRequestInterval: app.Config.PollMinRequestInterval,
		UserCacheTTL:       app.Config.PollUserCacheTTL,
		ChunkSize:          app.Config.PollChunkSize,
	}, source, app.Storage, app.Credentials, states, nil, app.Logger)
	if err != nil {
		return err
	}
	app.Pollers = append(app.Pollers, p)
	return nil
}

// initializeSubscriptions creates the push subscription managers. Twitch needs
// an app client; GitHub hooks use each user's own token.
func (app *App) initializeSubscriptions() error {
	httpClient := commonhttp.NewHTTPClient(commonhttp.WithTimeout(30 * time.Second))

	if app.Config.TwitchClientID != "" {
		tm, err := subscriptions.NewTwitchManager(subscriptions.TwitchConfig{
			ClientID:    app.Config.TwitchClientID,
			CallbackURL: app.Config.PublicURL + "/webhooks/twitch",
		}, app.OAuthManager, app.Storage, httpClient, app.Breakers, app.Logger)
		if err != nil {
			return err
		}
		app.Twitch = tm
	} else {
		app.Logger.Info("Twitch: Not configured (EventSub subscriptions disabled)")
	}

	gm, err := subscriptions.NewGitHubManager(subscriptions.GitHubConfig{
		CallbackURL: app.Config.PublicURL + "/webhooks/github",
	}, app.Credentials, app.Storage, httpClient, app.Breakers, app.Logger)
	if err != nil {
		return err
	}
	app.GitHub = gm

	app.Logger.Info("Subscription managers ready", logging.Field{Key: "twitch", Value: app.Twitch != nil})
	return nil
}
