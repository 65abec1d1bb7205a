// Package oauth2 talks to provider token endpoints. It obtains app tokens with
// the client-credentials grant (Twitch EventSub requires one) and exchanges
// user refresh tokens for new access tokens. Calls go through one circuit
// breaker per provider and app tokens are cached in a TokenStorage.
package oauth2

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/common/logging"
)

// Config is a provider's OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// InParams sends client credentials in the form body instead of basic auth.
	InParams bool
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return errors.ValidationError("client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.ValidationError("client_secret is required")
	}
	if c.TokenURL == "" {
		return errors.ValidationError("token_url is required")
	}
	return nil
}

func (c *Config) authStyle() xoauth2.AuthStyle {
	if c.InParams {
		return xoauth2.AuthStyleInParams
	}
	return xoauth2.AuthStyleInHeader
}

// Manager issues and caches tokens for registered providers.
type Manager struct {
	mu         sync.RWMutex
	configs    map[string]*Config
	tokens     map[string]*Token
	storage    TokenStorage
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	group      singleflight.Group
	logger     logging.Logger
}

// NewManager creates a Manager. A nil storage keeps app tokens in memory.
func NewManager(storage TokenStorage, httpClient *http.Client, logger logging.Logger) *Manager {
	if storage == nil {
		storage = NewMemoryTokenStorage()
	}
	if httpClient == nil {
		httpClient = commonhttp.NewHTTPClient(commonhttp.WithTimeout(30 * time.Second))
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.Field{Key: "component", Value: "oauth2"})
	return &Manager{
		configs:    make(map[string]*Config),
		tokens:     make(map[string]*Token),
		storage:    storage,
		breakers:   circuitbreaker.NewManager(circuitbreaker.OAuthConfig, logger),
		httpClient: httpClient,
		logger:     logger,
	}
}

// RegisterService registers the client used for serviceID.
func (m *Manager) RegisterService(serviceID string, config *Config) error {
	if config == nil {
		return errors.ValidationError("oauth2 config is required")
	}
	if err := config.validate(); err != nil {
		return err
	}
	stored := *config

	m.mu.Lock()
	m.configs[serviceID] = &stored
	delete(m.tokens, serviceID)
	m.mu.Unlock()
	return nil
}

// HasService reports whether serviceID is registered.
func (m *Manager) HasService(serviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.configs[serviceID]
	return ok
}

func (m *Manager) config(serviceID string) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[serviceID]
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("oauth2 service %s", serviceID))
	}
	return cfg, nil
}

// AppToken returns a client-credentials token for serviceID, requesting a new
// one when the cached token is missing or about to expire. Concurrent callers
// share a single request.
func (m *Manager) AppToken(ctx context.Context, serviceID string) (*Token, error) {
	cfg, err := m.config(serviceID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	token := m.tokens[serviceID]
	m.mu.RUnlock()
	if token != nil && !token.IsExpired() {
		return token, nil
	}

	if token == nil {
		stored, err := m.storage.LoadToken(ctx, serviceID)
		if err != nil {
			m.logger.Warn("Failed to load stored app token",
				logging.Field{Key: "service_id", Value: serviceID},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
		if stored != nil && !stored.IsExpired() {
			m.cache(serviceID, stored)
			return stored, nil
		}
	}

	v, err, _ := m.group.Do("app:"+serviceID, func() (interface{}, error) {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    cfg.authStyle(),
		}

		var issued *xoauth2.Token
		err := m.breakers.Get(serviceID).Execute(m.withClient(ctx), func(ctx context.Context) error {
			t, err := cc.Token(ctx)
			if err != nil {
				return classify(serviceID, err)
			}
			issued = t
			return nil
		})
		if err != nil {
			return nil, err
		}

		token := fromOAuth2(issued)
		m.cache(serviceID, token)
		if err := m.storage.SaveToken(ctx, serviceID, token); err != nil {
			m.logger.Warn("Failed to persist app token",
				logging.Field{Key: "service_id", Value: serviceID},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
		m.logger.Debug("Issued app token",
			logging.Field{Key: "service_id", Value: serviceID},
			logging.Field{Key: "expires_at", Value: token.Expiry},
		)
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

// InvalidateAppToken drops the cached app token, e.g. after a provider
// rejected it with 401.
func (m *Manager) InvalidateAppToken(ctx context.Context, serviceID string) error {
	m.mu.Lock()
	delete(m.tokens, serviceID)
	m.mu.Unlock()
	return m.storage.DeleteToken(ctx, serviceID)
}

// Refresh exchanges a user's refresh token for a new access token. Providers
// that do not rotate refresh tokens get the old one carried over.
func (m *Manager) Refresh(ctx context.Context, serviceID, refreshToken string) (*Token, error) {
	cfg, err := m.config(serviceID)
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, errors.ValidationError("refresh token is empty")
	}

	oc := &xoauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     xoauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: cfg.authStyle()},
		Scopes:       cfg.Scopes,
	}

	var issued *xoauth2.Token
	err = m.breakers.Get(serviceID).Execute(m.withClient(ctx), func(ctx context.Context) error {
		expired := &xoauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Hour)}
		t, err := oc.TokenSource(ctx, expired).Token()
		if err != nil {
			return classify(serviceID, err)
		}
		issued = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fromOAuth2(issued), nil
}

// BreakerStates reports the token endpoint breakers.
func (m *Manager) BreakerStates() map[string]string {
	return m.breakers.States()
}

func (m *Manager) cache(serviceID string, token *Token) {
	m.mu.Lock()
	m.tokens[serviceID] = token
	m.mu.Unlock()
}

func (m *Manager) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, xoauth2.HTTPClient, m.httpClient)
}

func fromOAuth2(t *xoauth2.Token) *Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Token{
		AccessToken:  t.AccessToken,
		TokenType:    tokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
		Scopes:       parseScopes(t.Extra("scope")),
	}
}

// parseScopes reads the scope field of a token response. Reddit separates
// scopes with spaces, GitHub with commas and Twitch sends an array.
func parseScopes(v interface{}) []string {
	switch s := v.(type) {
	case string:
		return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	case []interface{}:
		var out []string
		for _, item := range s {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// classify maps token endpoint failures onto the error taxonomy. A rejected
// grant or client is an AuthError so callers can flag the credential.
func classify(serviceID string, err error) error {
	var re *xoauth2.RetrieveError
	if stderrors.As(err, &re) && re.Response != nil {
		msg := fmt.Sprintf("%s token endpoint returned %d", serviceID, re.Response.StatusCode)
		if re.ErrorCode != "" {
			msg += ": " + re.ErrorCode
		}
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return errors.AuthError(msg).WithCode(re.ErrorCode)
		}
		return errors.FromHTTPStatus(re.Response.StatusCode, msg)
	}
	return errors.TransportError(fmt.Sprintf("%s token request failed", serviceID), err)
}
