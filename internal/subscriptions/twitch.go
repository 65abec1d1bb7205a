// Package subscriptions registers upstream push subscriptions: Twitch EventSub
// subscriptions, created with an app token, and GitHub repository hooks,
// created with the user's token. Each registration carries a fresh secret
// that webhook intake later checks deliveries against.
package subscriptions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/common/logging"
	"area-engine/internal/crypto"
	"area-engine/internal/models"
	"area-engine/internal/oauth2"
	"area-engine/internal/providers/twitch"
)

// Repository persists subscription records.
type Repository interface {
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByExternalID(ctx context.Context, provider, externalID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string, active bool) error
}

// AppTokens issues client-credentials tokens. *oauth2.Manager implements it.
type AppTokens interface {
	AppToken(ctx context.Context, serviceID string) (*oauth2.Token, error)
	InvalidateAppToken(ctx context.Context, serviceID string) error
}

// terminal statuses never recover on their own; a subscription in one of
// them is deleted and recreated.
var terminalStatuses = map[string]bool{
	models.SubscriptionStatusVerificationFailed: true,
	models.SubscriptionStatusRevoked:            true,
	"notification_failures_exceeded":            true,
	"user_removed":                              true,
	"version_removed":                           true,
}

type TwitchConfig struct {
	ClientID   string
	APIBaseURL string
	// CallbackURL receives deliveries, normally PUBLIC_URL + /webhooks/twitch.
	CallbackURL string
}

// RemoteSubscription is a subscription as Twitch reports it.
type RemoteSubscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport struct {
		Method   string `json:"method"`
		Callback string `json:"callback"`
	} `json:"transport"`
	CreatedAt string `json:"created_at"`
}

type subscriptionList struct {
	Data       []RemoteSubscription `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

// TwitchManager manages EventSub webhook subscriptions.
type TwitchManager struct {
	config  TwitchConfig
	tokens  AppTokens
	repo    Repository
	api     *commonhttp.APIClient
	breaker *circuitbreaker.Breaker
	logger  logging.Logger
}

func NewTwitchManager(config TwitchConfig, tokens AppTokens, repo Repository, client *http.Client, breakers *circuitbreaker.Manager, logger logging.Logger) (*TwitchManager, error) {
	if config.ClientID == "" {
		return nil, errors.ConfigError("twitch client id is required")
	}
	if config.CallbackURL == "" {
		return nil, errors.ConfigError("twitch callback url is required")
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = twitch.DefaultAPIBaseURL
	}
	config.APIBaseURL = strings.TrimRight(config.APIBaseURL, "/")
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TwitchManager{
		config:  config,
		tokens:  tokens,
		repo:    repo,
		api:     commonhttp.NewAPIClient(client, ""),
		breaker: breakers.Get("twitch-eventsub"),
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "twitch_eventsub"}),
	}, nil
}

// CreateSubscription subscribes userID to eventType on broadcasterID's
// channel. channel.follow also needs moderatorID. When Twitch reports the
// subscription already exists, the existing one is reused, or deleted and
// recreated once if it can no longer deliver.
func (m *TwitchManager) CreateSubscription(ctx context.Context, userID, broadcasterID, eventType, moderatorID string) (*models.Subscription, error) {
	if eventType == "" {
		return nil, errors.ValidationError("event type is required")
	}
	if broadcasterID == "" {
		return nil, errors.ValidationError("broadcasterId is required")
	}
	if eventType == twitch.SubscriptionChannelFollow && moderatorID == "" {
		return nil, errors.ValidationError("moderatorId is required for channel.follow")
	}
	return m.create(ctx, userID, broadcasterID, eventType, moderatorID, false)
}

func (m *TwitchManager) create(ctx context.Context, userID, broadcasterID, eventType, moderatorID string, retried bool) (*models.Subscription, error) {
	secret, err := crypto.RandomHex(32)
	if err != nil {
		return nil, err
	}

	condition := map[string]string{"broadcaster_user_id": broadcasterID}
	if moderatorID != "" {
		condition["moderator_user_id"] = moderatorID
	}
	body := map[string]interface{}{
		"type":      eventType,
		"version":   twitch.EventVersion(eventType),
		"condition": condition,
		"transport": map[string]string{
			"method":   "webhook",
			"callback": m.config.CallbackURL,
			"secret":   secret,
		},
	}

	var list subscriptionList
	err = m.do(ctx, http.MethodPost, "/eventsub/subscriptions", body, &list)
	switch {
	case err == nil:
	case errors.IsType(err, errors.ErrTypeConflict):
		return m.resolveConflict(ctx, userID, broadcasterID, eventType, moderatorID, retried)
	default:
		return nil, err
	}

	if len(list.Data) == 0 {
		return nil, errors.InternalError("Invalid response from Twitch API", nil)
	}
	remote := list.Data[0]

	sub := &models.Subscription{
		ID:                uuid.NewString(),
		UserID:            userID,
		Provider:          twitch.ProviderID,
		ExternalID:        remote.ID,
		CallbackURL:       m.config.CallbackURL,
		Secret:            secret,
		WatchedEventTypes: []string{eventType},
		Status:            remote.Status,
		IsActive:          true,
	}
	if err := m.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}

	m.logger.Info("Created EventSub subscription",
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "type", Value: eventType},
		logging.Field{Key: "subscription_id", Value: remote.ID},
		logging.Field{Key: "status", Value: remote.Status},
	)
	return sub, nil
}

func (m *TwitchManager) resolveConflict(ctx context.Context, userID, broadcasterID, eventType, moderatorID string, retried bool) (*models.Subscription, error) {
	existing, err := m.findSubscription(ctx, eventType, broadcasterID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.ConflictError(fmt.Sprintf("twitch reported a conflicting %s subscription that could not be found", eventType))
	}

	log := m.logger.WithFields(
		logging.Field{Key: "subscription_id", Value: existing.ID},
		logging.Field{Key: "type", Value: eventType},
		logging.Field{Key: "status", Value: existing.Status},
	)

	recreate := terminalStatuses[existing.Status]
	local, err := m.repo.GetSubscriptionByExternalID(ctx, twitch.ProviderID, existing.ID)
	switch {
	case err == nil:
		if !recreate {
			if local.Status != existing.Status {
				if err := m.repo.UpdateSubscriptionStatus(ctx, local.ID, existing.Status, true); err != nil {
					return nil, err
				}
				local.Status = existing.Status
			}
			log.Info("Reusing existing EventSub subscription")
			return local, nil
		}
	case errors.IsType(err, errors.ErrTypeNotFound):
		// without the stored secret its deliveries cannot be verified
		recreate = true
	default:
		return nil, err
	}

	if retried {
		return nil, errors.ConflictError(fmt.Sprintf("%s subscription still conflicts after recreation (status %s)", eventType, existing.Status))
	}

	log.Info("Replacing unusable EventSub subscription")
	if err := m.DeleteSubscription(ctx, existing.ID); err != nil {
		return nil, err
	}
	return m.create(ctx, userID, broadcasterID, eventType, moderatorID, true)
}

func (m *TwitchManager) findSubscription(ctx context.Context, eventType, broadcasterID string) (*RemoteSubscription, error) {
	subs, err := m.list(ctx, url.Values{"type": {eventType}})
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].Type == eventType && subs[i].Condition["broadcaster_user_id"] == broadcasterID {
			return &subs[i], nil
		}
	}
	return nil, nil
}

// DeleteSubscription removes a subscription by its Twitch id and deactivates
// the local record. A subscription Twitch no longer knows is not an error.
func (m *TwitchManager) DeleteSubscription(ctx context.Context, externalID string) error {
	q := url.Values{"id": {externalID}}
	err := m.do(ctx, http.MethodDelete, "/eventsub/subscriptions?"+q.Encode(), nil, nil)
	if err != nil && !errors.IsType(err, errors.ErrTypeNotFound) {
		return err
	}

	local, err := m.repo.GetSubscriptionByExternalID(ctx, twitch.ProviderID, externalID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil
		}
		return err
	}
	return m.repo.UpdateSubscriptionStatus(ctx, local.ID, "deleted", false)
}

// GetSubscriptions lists every subscription of the app.
func (m *TwitchManager) GetSubscriptions(ctx context.Context) ([]RemoteSubscription, error) {
	return m.list(ctx, url.Values{})
}

func (m *TwitchManager) list(ctx context.Context, q url.Values) ([]RemoteSubscription, error) {
	var out []RemoteSubscription
	for {
		var page subscriptionList
		path := "/eventsub/subscriptions"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		if err := m.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if page.Pagination.Cursor == "" || len(page.Data) == 0 {
			return out, nil
		}
		q.Set("after", page.Pagination.Cursor)
	}
}

// GetUserID resolves a channel login to its user id.
func (m *TwitchManager) GetUserID(ctx context.Context, login string) (string, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return "", errors.ValidationError("login is required")
	}
	var users struct {
		Data []struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := m.do(ctx, http.MethodGet, "/users?"+url.Values{"login": {login}}.Encode(), nil, &users); err != nil {
		return "", err
	}
	if len(users.Data) == 0 {
		return "", errors.NotFoundError(fmt.Sprintf("twitch user %s", login))
	}
	return users.Data[0].ID, nil
}

// do calls the Helix API with the app token. A rejected token is dropped and
// the call retried once with a new one.
func (m *TwitchManager) do(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := m.call(ctx, method, path, body)
	if errors.IsType(err, errors.ErrTypeAuth) {
		if invErr := m.tokens.InvalidateAppToken(ctx, twitch.ProviderID); invErr != nil {
			m.logger.Warn("Failed to drop rejected app token", logging.Field{Key: "error", Value: invErr.Error()})
		}
		resp, err = m.call(ctx, method, path, body)
	}
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(out)
}

func (m *TwitchManager) call(ctx context.Context, method, path string, body interface{}) (*commonhttp.Response, error) {
	token, err := m.tokens.AppToken(ctx, twitch.ProviderID)
	if err != nil {
		return nil, err
	}

	var resp *commonhttp.Response
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = m.api.Do(ctx, commonhttp.Request{
			Method: method,
			URL:    m.config.APIBaseURL + path,
			Headers: map[string]string{
				"Authorization": "Bearer " + token.AccessToken,
				"Client-Id":     m.config.ClientID,
			},
			Body: body,
		})
		return err
	})
	return resp, err
}
