// Package testutil holds builders and fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"area-engine/internal/models"
	"area-engine/internal/storage/sqlite"
	"area-engine/internal/storage/sqlstore"
)

// NewStore opens a migrated SQLite store in a temp dir.
func NewStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlite.NewAdapter(&sqlite.Config{DatabasePath: filepath.Join(t.TempDir(), "area.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// SeedMappings stores mappings.
func SeedMappings(t *testing.T, store *sqlstore.Store, mappings ...*models.Mapping) {
	t.Helper()
	for _, m := range mappings {
		require.NoError(t, store.CreateMapping(context.Background(), m))
	}
}

// SeedAccessToken stores a plaintext access token for provider that expires
// after ttl. A zero ttl never expires.
func SeedAccessToken(t *testing.T, store *sqlstore.Store, userID, provider, value string, ttl time.Duration) {
	t.Helper()
	cred := &models.Credential{
		UserID:    userID,
		TokenType: models.AccessTokenType(provider),
		Value:     value,
	}
	if ttl != 0 {
		expires := time.Now().UTC().Add(ttl)
		cred.ExpiresAt = &expires
	}
	require.NoError(t, store.SaveCredential(context.Background(), cred))
}

// SeedRefreshToken stores a plaintext refresh token for provider.
func SeedRefreshToken(t *testing.T, store *sqlstore.Store, userID, provider, value string) {
	t.Helper()
	require.NoError(t, store.SaveCredential(context.Background(), &models.Credential{
		UserID:    userID,
		TokenType: models.RefreshTokenType(provider),
		Value:     value,
	}))
}
