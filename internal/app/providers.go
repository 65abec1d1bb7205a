package app

import (
	"time"

	"area-engine/internal/circuitbreaker"
	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/common/logging"
	"area-engine/internal/credentials"
	"area-engine/internal/executors"
	"area-engine/internal/oauth2"
	"area-engine/internal/providers/github"
	"area-engine/internal/providers/reddit"
	"area-engine/internal/providers/slack"
	"area-engine/internal/providers/twitch"
	"area-engine/internal/services"
)

type oauthClient struct {
	provider     string
	clientID     string
	clientSecret string
	tokenURL     string
	inParams     bool
}

// initializeCredentials registers the OAuth clients used for refresh and app
// tokens, then builds the credential store on top of them.
func (app *App) initializeCredentials() error {
	httpClient := commonhttp.NewHTTPClient(commonhttp.WithTimeout(30 * time.Second))

	var tokenStorage oauth2.TokenStorage
	if app.RedisClient != nil {
		tokenStorage = oauth2.NewRedisTokenStorage(app.RedisClient)
	}
	app.OAuthManager = oauth2.NewManager(tokenStorage, httpClient, app.Logger)

	clients := []oauthClient{
		{twitch.ProviderID, app.Config.TwitchClientID, app.Config.TwitchClientSecret, twitch.TokenURL, true},
		{reddit.ProviderID, app.Config.RedditClientID, app.Config.RedditClientSecret, reddit.TokenURL, false},
		{github.ProviderID, app.Config.GitHubClientID, app.Config.GitHubClientSecret, github.TokenURL, true},
		{slack.ProviderID, app.Config.SlackClientID, app.Config.SlackClientSecret, slack.TokenURL, false},
	}
	for _, c := range clients {
		if c.clientID == "" || c.clientSecret == "" {
			continue
		}
		if err := app.OAuthManager.RegisterService(c.provider, &oauth2.Config{
			ClientID:     c.clientID,
			ClientSecret: c.clientSecret,
			TokenURL:     c.tokenURL,
			InParams:     c.inParams,
		}); err != nil {
			return err
		}
		app.Logger.Info("OAuth client registered", logging.String("provider", c.provider))
	}

	app.Credentials = credentials.NewStore(app.Storage, app.Cipher, app.OAuthManager, app.Logger)
	return nil
}

// initializeServices registers every provider descriptor and executor.
func (app *App) initializeServices() error {
	app.Breakers = circuitbreaker.NewManager(circuitbreaker.ProviderConfig, app.Logger)
	httpClient := commonhttp.NewHTTPClient(commonhttp.WithTimeout(30 * time.Second))
	creds := app.Credentials

	channels := slack.NewChannelResolver(httpClient, "", app.Breakers, creds.ResolverFor(slack.ProviderID), 0, app.Logger)

	app.Services = services.NewRegistry(app.Logger)
	descriptors := []services.Descriptor{
		reddit.Descriptor(creds.ResolverFor(reddit.ProviderID)),
		slack.Descriptor(creds.ResolverFor(slack.ProviderID), channels),
		github.Descriptor(creds.ResolverFor(github.ProviderID)),
		twitch.Descriptor(creds.ResolverFor(twitch.ProviderID)),
		executors.WebhookDescriptor(),
	}
	for _, d := range descriptors {
		if err := app.Services.Register(d); err != nil {
			return err
		}
	}

	app.Executors = executors.NewRegistry(app.Logger)
	execs := map[string]executors.Executor{
		reddit.ProviderID: reddit.NewExecutor(httpClient, "", app.Breakers),
		slack.ProviderID:  slack.NewExecutor(httpClient, "", app.Breakers),
		github.ProviderID: github.NewExecutor(httpClient, "", app.Breakers),
		"webhook":         executors.NewWebhookExecutor(httpClient, app.Breakers),
	}
	for provider, exec := range execs {
		if err := app.Executors.Register(provider, exec); err != nil {
			return err
		}
	}
	return nil
}

var _ credentials.Refresher = (*oauth2.Manager)(nil)
