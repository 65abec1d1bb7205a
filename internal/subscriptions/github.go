package subscriptions

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/common/logging"
	"area-engine/internal/crypto"
	"area-engine/internal/models"
	"area-engine/internal/providers/github"
)

// CredentialGetter resolves a user's provider credential.
type CredentialGetter interface {
	Get(ctx context.Context, userID, provider string) (*models.Credential, error)
}

type GitHubConfig struct {
	APIBaseURL string
	// CallbackURL receives deliveries, normally PUBLIC_URL + /webhooks/github.
	CallbackURL string
}

type hook struct {
	ID     int64    `json:"id"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
	Config struct {
		URL string `json:"url"`
	} `json:"config"`
}

// GitHubManager manages repository webhooks.
type GitHubManager struct {
	config  GitHubConfig
	creds   CredentialGetter
	repo    Repository
	api     *commonhttp.APIClient
	breaker *circuitbreaker.Breaker
	logger  logging.Logger
}

func NewGitHubManager(config GitHubConfig, creds CredentialGetter, repo Repository, client *http.Client, breakers *circuitbreaker.Manager, logger logging.Logger) (*GitHubManager, error) {
	if config.CallbackURL == "" {
		return nil, errors.ConfigError("github callback url is required")
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = github.DefaultBaseURL
	}
	config.APIBaseURL = strings.TrimRight(config.APIBaseURL, "/")
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &GitHubManager{
		config:  config,
		creds:   creds,
		repo:    repo,
		api:     commonhttp.NewAPIClient(client, github.UserAgent),
		breaker: breakers.Get("github-hooks"),
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "github_hooks"}),
	}, nil
}

// CreateWebhook installs a hook on owner/repo delivering events. When the
// repository already has a hook for our callback it is updated with a new
// secret and event list instead.
func (m *GitHubManager) CreateWebhook(ctx context.Context, userID, owner, repo string, events []string) (*models.Subscription, error) {
	if owner == "" || repo == "" {
		return nil, errors.ValidationError("owner and repo are required")
	}
	if len(events) == 0 {
		return nil, errors.ValidationError("at least one event is required")
	}
	cred, err := m.creds.Get(ctx, userID, github.ProviderID)
	if err != nil {
		return nil, err
	}
	secret, err := crypto.RandomHex(32)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"name":   "web",
		"active": true,
		"events": events,
		"config": map[string]string{
			"url":          m.config.CallbackURL,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": "0",
		},
	}

	hooksPath := fmt.Sprintf("/repos/%s/%s/hooks", owner, repo)
	var created hook
	resp, err := m.do(ctx, cred.Value, http.MethodPost, hooksPath, body, &created)
	if err != nil && hookExists(resp) {
		existing, findErr := m.findHook(ctx, cred.Value, hooksPath)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		delete(body, "name")
		_, err = m.do(ctx, cred.Value, http.MethodPatch, fmt.Sprintf("%s/%d", hooksPath, existing.ID), body, &created)
		if err == nil {
			m.logger.Info("Reusing existing repository hook",
				logging.Field{Key: "repository", Value: owner + "/" + repo},
				logging.Field{Key: "hook_id", Value: existing.ID},
			)
		}
	}
	if err != nil {
		return nil, err
	}

	externalID := strconv.FormatInt(created.ID, 10)
	sub, err := m.repo.GetSubscriptionByExternalID(ctx, github.ProviderID, externalID)
	if err != nil {
		if !errors.IsType(err, errors.ErrTypeNotFound) {
			return nil, err
		}
		sub = &models.Subscription{ID: uuid.NewString(), Provider: github.ProviderID, ExternalID: externalID}
	}
	sub.UserID = userID
	sub.CallbackURL = m.config.CallbackURL
	sub.Secret = secret
	sub.WatchedEventTypes = events
	sub.Status = models.SubscriptionStatusEnabled
	sub.IsActive = true
	if err := m.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// hookExists reports a 422 whose validation errors say the hook exists.
func hookExists(resp *commonhttp.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(string(resp.Body)), "already exists")
}

func (m *GitHubManager) findHook(ctx context.Context, token, hooksPath string) (*hook, error) {
	var hooks []hook
	if _, err := m.do(ctx, token, http.MethodGet, hooksPath, nil, &hooks); err != nil {
		return nil, err
	}
	for i := range hooks {
		if hooks[i].Config.URL == m.config.CallbackURL {
			return &hooks[i], nil
		}
	}
	return nil, nil
}

// DeleteWebhook removes a hook and deactivates its record. A hook GitHub no
// longer knows is not an error.
func (m *GitHubManager) DeleteWebhook(ctx context.Context, userID, owner, repo string, hookID int64) error {
	cred, err := m.creds.Get(ctx, userID, github.ProviderID)
	if err != nil {
		return err
	}
	_, err = m.do(ctx, cred.Value, http.MethodDelete, fmt.Sprintf("/repos/%s/%s/hooks/%d", owner, repo, hookID), nil, nil)
	if err != nil && !errors.IsType(err, errors.ErrTypeNotFound) {
		return err
	}

	sub, err := m.repo.GetSubscriptionByExternalID(ctx, github.ProviderID, strconv.FormatInt(hookID, 10))
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil
		}
		return err
	}
	return m.repo.UpdateSubscriptionStatus(ctx, sub.ID, "deleted", false)
}

func (m *GitHubManager) do(ctx context.Context, token, method, path string, body, out interface{}) (*commonhttp.Response, error) {
	var resp *commonhttp.Response
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = m.api.Do(ctx, commonhttp.Request{
			Method: method,
			URL:    m.config.APIBaseURL + path,
			Headers: map[string]string{
				"Authorization": "Bearer " + token,
				"Accept":        "application/vnd.github.v3+json",
			},
			Body: body,
		})
		return err
	})
	if err != nil {
		return resp, err
	}
	if out == nil || len(resp.Body) == 0 {
		return resp, nil
	}
	return resp, resp.Decode(out)
}
