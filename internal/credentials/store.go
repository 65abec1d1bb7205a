// Package credentials resolves the provider tokens a user has granted. Access
// tokens past their expiry are refreshed through the provider's token
// endpoint when a refresh token is stored; concurrent refreshes for the same
// (user, provider) share one request.
package credentials

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/crypto"
	"area-engine/internal/models"
	"area-engine/internal/oauth2"
)

// Repository is the slice of storage the Store needs.
type Repository interface {
	SaveCredential(ctx context.Context, cred *models.Credential) error
	GetCredential(ctx context.Context, userID, tokenType string) (*models.Credential, error)
	RevokeCredential(ctx context.Context, userID, tokenType, reason string, at time.Time) error
}

// Refresher exchanges refresh tokens. *oauth2.Manager implements it.
type Refresher interface {
	HasService(serviceID string) bool
	Refresh(ctx context.Context, serviceID, refreshToken string) (*oauth2.Token, error)
}

// Resolver returns the live credential a user holds for one provider.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (*models.Credential, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, userID string) (*models.Credential, error)

func (f ResolverFunc) Resolve(ctx context.Context, userID string) (*models.Credential, error) {
	return f(ctx, userID)
}

// RevokedRefreshReason is recorded when a provider rejects a refresh token.
const RevokedRefreshReason = "refresh token rejected by provider"

// Store reads and writes credentials. Values are sealed with the cipher when
// one is configured; returned credentials always hold plaintext.
type Store struct {
	repo      Repository
	cipher    *crypto.TokenCipher
	refresher Refresher
	group     singleflight.Group
	logger    logging.Logger
	nowFn     func() time.Time
}

// NewStore creates a Store. cipher and refresher are optional.
func NewStore(repo Repository, cipher *crypto.TokenCipher, refresher Refresher, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Store{
		repo:      repo,
		cipher:    cipher,
		refresher: refresher,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "credentials"}),
		nowFn:     time.Now,
	}
}

// Get returns the user's usable access credential for provider. A missing,
// revoked or unrefreshable credential is a NotFound error.
func (s *Store) Get(ctx context.Context, userID, provider string) (*models.Credential, error) {
	cred, err := s.load(ctx, userID, models.AccessTokenType(provider))
	if err != nil {
		return nil, err
	}
	if cred.IsRevoked {
		return nil, notFound(userID, provider, "revoked")
	}
	if cred.Value != "" && !cred.IsExpired(s.nowFn()) {
		return cred, nil
	}

	v, err, _ := s.group.Do(userID+":"+provider, func() (interface{}, error) {
		return s.refresh(ctx, userID, provider)
	})
	if err != nil {
		return nil, err
	}
	refreshed := *v.(*models.Credential)
	return &refreshed, nil
}

func (s *Store) refresh(ctx context.Context, userID, provider string) (*models.Credential, error) {
	// a concurrent caller may have refreshed while we waited
	current, err := s.load(ctx, userID, models.AccessTokenType(provider))
	if err == nil && !current.IsRevoked && current.Value != "" && !current.IsExpired(s.nowFn()) {
		return current, nil
	}

	if s.refresher == nil || !s.refresher.HasService(provider) {
		return nil, notFound(userID, provider, "expired")
	}

	refreshCred, err := s.load(ctx, userID, models.RefreshTokenType(provider))
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil, notFound(userID, provider, "expired without refresh token")
		}
		return nil, err
	}
	if refreshCred.IsRevoked || refreshCred.Value == "" {
		return nil, notFound(userID, provider, "refresh token revoked")
	}

	token, err := s.refresher.Refresh(ctx, provider, refreshCred.Value)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeAuth) {
			if revokeErr := s.Revoke(ctx, userID, models.RefreshTokenType(provider), RevokedRefreshReason); revokeErr != nil {
				s.logger.Warn("Failed to flag rejected refresh token",
					logging.Field{Key: "user_id", Value: userID},
					logging.Field{Key: "provider", Value: provider},
					logging.Field{Key: "error", Value: revokeErr.Error()},
				)
			}
		}
		return nil, err
	}

	access := &models.Credential{
		UserID:    userID,
		TokenType: models.AccessTokenType(provider),
		Value:     token.AccessToken,
		Scopes:    token.Scopes,
	}
	if len(access.Scopes) == 0 && current != nil {
		access.Scopes = current.Scopes
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		access.ExpiresAt = &expiry
	}
	if err := s.Save(ctx, access); err != nil {
		return nil, err
	}

	if token.RefreshToken != "" && token.RefreshToken != refreshCred.Value {
		refreshCred.Value = token.RefreshToken
		if err := s.Save(ctx, refreshCred); err != nil {
			s.logger.Warn("Failed to store rotated refresh token",
				logging.Field{Key: "user_id", Value: userID},
				logging.Field{Key: "provider", Value: provider},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	s.logger.Info("Refreshed access token",
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "provider", Value: provider},
	)
	return access, nil
}

// Save upserts cred, sealing its value. cred itself is left in plaintext.
func (s *Store) Save(ctx context.Context, cred *models.Credential) error {
	if cred == nil || cred.UserID == "" || cred.TokenType == "" {
		return errors.ValidationError("credential requires user_id and token_type")
	}
	stored := *cred
	if s.cipher != nil {
		sealed, err := s.cipher.Encrypt(cred.Value)
		if err != nil {
			return err
		}
		stored.Value = sealed
	}
	if err := s.repo.SaveCredential(ctx, &stored); err != nil {
		return err
	}
	cred.CreatedAt, cred.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

// Revoke soft-deletes a credential.
func (s *Store) Revoke(ctx context.Context, userID, tokenType, reason string) error {
	return s.repo.RevokeCredential(ctx, userID, tokenType, reason, s.nowFn().UTC())
}

// ResolverFor returns a Resolver bound to provider.
func (s *Store) ResolverFor(provider string) Resolver {
	return ResolverFunc(func(ctx context.Context, userID string) (*models.Credential, error) {
		return s.Get(ctx, userID, provider)
	})
}

func (s *Store) load(ctx context.Context, userID, tokenType string) (*models.Credential, error) {
	cred, err := s.repo.GetCredential(ctx, userID, tokenType)
	if err != nil {
		return nil, err
	}
	if s.cipher != nil {
		plain, err := s.cipher.Decrypt(cred.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s for %s: %w", tokenType, userID, err)
		}
		cred.Value = plain
	}
	return cred, nil
}

func notFound(userID, provider, reason string) error {
	return errors.NotFoundError(fmt.Sprintf("%s credential", provider)).
		WithContext("user_id", userID).
		WithContext("reason", reason)
}
