package models

import "time"

// AccessTokenType returns the token_type under which a provider's access token is stored.
func AccessTokenType(provider string) string {
	return provider + "_access_token"
}

// RefreshTokenType returns the token_type under which a provider's refresh token is stored.
func RefreshTokenType(provider string) string {
	return provider + "_refresh_token"
}

// Credential is one stored token for a user. Rows are keyed by
// (UserID, TokenType) and are never hard-deleted.
type Credential struct {
	UserID        string     `json:"user_id"`
	TokenType     string     `json:"token_type"`
	Value         string     `json:"-"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Scopes        []string   `json:"scopes"`
	IsRevoked     bool       `json:"is_revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsExpired reports whether the credential expired at or before now.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// IsUsable reports whether the credential can be sent to a provider.
func (c *Credential) IsUsable(now time.Time) bool {
	return c != nil && c.Value != "" && !c.IsRevoked && !c.IsExpired(now)
}

// Subscription statuses reported by push providers.
const (
	SubscriptionStatusEnabled             = "enabled"
	SubscriptionStatusVerificationPending = "webhook_callback_verification_pending"
	SubscriptionStatusVerificationFailed  = "webhook_callback_verification_failed"
	SubscriptionStatusRevoked             = "authorization_revoked"
)

// Subscription is an upstream push registration that lets a provider deliver
// webhooks for a user.
type Subscription struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Provider          string    `json:"provider"`
	ExternalID        string    `json:"external_id"`
	CallbackURL       string    `json:"callback_url"`
	Secret            string    `json:"-"`
	WatchedEventTypes []string  `json:"watched_event_types"`
	Status            string    `json:"status"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
