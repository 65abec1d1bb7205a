package oauth2

import (
	"context"
	"sync"
	"time"

	"area-engine/internal/redis"
)

// Token is an access token held by the Manager.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	// Scopes are the scopes the provider reported granting, if any.
	Scopes []string `json:"scopes,omitempty"`
}

// IsExpired returns true if the token is expired or will expire within five
// minutes. A zero expiry never expires.
func (t *Token) IsExpired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().After(t.Expiry.Add(-5 * time.Minute))
}

// TokenStorage persists app tokens across restarts and replicas.
type TokenStorage interface {
	SaveToken(ctx context.Context, serviceID string, token *Token) error
	// LoadToken returns nil without error when no token is stored.
	LoadToken(ctx context.Context, serviceID string) (*Token, error)
	DeleteToken(ctx context.Context, serviceID string) error
}

// MemoryTokenStorage keeps tokens in process memory.
type MemoryTokenStorage struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{tokens: make(map[string]*Token)}
}

func (s *MemoryTokenStorage) SaveToken(_ context.Context, serviceID string, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[serviceID] = token
	return nil
}

func (s *MemoryTokenStorage) LoadToken(_ context.Context, serviceID string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[serviceID], nil
}

func (s *MemoryTokenStorage) DeleteToken(_ context.Context, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, serviceID)
	return nil
}

// RedisTokenStorage shares tokens between replicas. Keys live until the token
// expires, capped at 30 days.
type RedisTokenStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisTokenStorage(client *redis.Client) *RedisTokenStorage {
	return &RedisTokenStorage{
		client: client,
		prefix: "oauth2:token:",
		ttl:    30 * 24 * time.Hour,
	}
}

func (s *RedisTokenStorage) SaveToken(ctx context.Context, serviceID string, token *Token) error {
	ttl := s.ttl
	if !token.Expiry.IsZero() {
		if until := time.Until(token.Expiry); until > 0 && until < ttl {
			ttl = until
		}
	}
	return s.client.SetJSON(ctx, s.prefix+serviceID, token, ttl)
}

func (s *RedisTokenStorage) LoadToken(ctx context.Context, serviceID string) (*Token, error) {
	var token Token
	found, err := s.client.GetJSON(ctx, s.prefix+serviceID, &token)
	if err != nil || !found {
		return nil, err
	}
	return &token, nil
}

func (s *RedisTokenStorage) DeleteToken(ctx context.Context, serviceID string) error {
	return s.client.Delete(ctx, s.prefix+serviceID)
}
