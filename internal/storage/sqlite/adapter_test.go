package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
	"area-engine/internal/storage/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := NewAdapter(&Config{DatabasePath: filepath.Join(t.TempDir(), "area.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewAdapterRequiresPath(t *testing.T) {
	_, err := NewAdapter(&Config{})
	assert.Error(t, err)
}

func TestEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i, id := range []string{"evt-2", "evt-1", "evt-3"} {
		offset := map[string]int{"evt-1": 0, "evt-2": 1, "evt-3": 2}[id]
		require.NoError(t, store.CreateEvent(ctx, &models.Event{
			ID:         id,
			ActionType: "reddit.new_post_in_subreddit",
			UserID:     "user-1",
			Payload:    map[string]interface{}{"index": i},
			Source:     "reddit-polling",
			CreatedAt:  base.Add(time.Duration(offset) * time.Second),
		}))
	}

	pending, err := store.ListPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"evt-1", "evt-2", "evt-3"}, []string{pending[0].ID, pending[1].ID, pending[2].ID})
	assert.Equal(t, models.EventStatusReceived, pending[0].Status)

	require.NoError(t, store.UpdateEventStatus(ctx, "evt-1", models.EventStatusCompleted))
	event, err := store.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCompleted, event.Status)
	assert.NotNil(t, event.ProcessedAt)
	assert.EqualValues(t, 1, event.Payload["index"])

	pending, err = store.ListPendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-2", pending[0].ID)

	_, err = store.GetEvent(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	assert.True(t, errors.IsType(store.UpdateEventStatus(ctx, "missing", models.EventStatusFailed), errors.ErrTypeNotFound))
}

func TestMappings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mappings := []*models.Mapping{
		{ID: "m1", CreatedBy: "alice", Action: models.TypedConfig{Type: "reddit.new_post_in_subreddit", Config: map[string]interface{}{"subreddit": "golang"}}, Reaction: models.TypedConfig{Type: "slack.send_message"}, IsActive: true},
		{ID: "m2", CreatedBy: "bob", Action: models.TypedConfig{Type: "reddit.new_post_in_subreddit"}, Reaction: models.TypedConfig{Type: "slack.send_message"}, IsActive: true},
		{ID: "m3", CreatedBy: "carol", Action: models.TypedConfig{Type: "reddit.new_post_by_user"}, Reaction: models.TypedConfig{Type: "slack.send_message"}, IsActive: false},
		{ID: "m4", CreatedBy: "alice", Action: models.TypedConfig{Type: "github.push"}, Reaction: models.TypedConfig{Type: "slack.send_message"}, IsActive: true},
	}
	for _, m := range mappings {
		require.NoError(t, store.CreateMapping(ctx, m))
	}

	users, err := store.ListActiveUserIDs(ctx, "reddit")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	byType, err := store.ListActiveMappingsByActionType(ctx, "reddit.new_post_in_subreddit")
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	forAlice, err := store.ListActiveMappingsForUser(ctx, "alice", "reddit")
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	assert.Equal(t, "golang", forAlice[0].ConfigString("subreddit"))

	require.NoError(t, store.SetMappingActive(ctx, "m3", true))
	users, err = store.ListActiveUserIDs(ctx, "reddit")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)
}

func TestCredentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	cred := &models.Credential{
		UserID:    "alice",
		TokenType: models.AccessTokenType("reddit"),
		Value:     "token-1",
		ExpiresAt: &expires,
		Scopes:    []string{"read", "identity"},
	}
	require.NoError(t, store.SaveCredential(ctx, cred))

	cred.Value = "token-2"
	require.NoError(t, store.SaveCredential(ctx, cred))

	got, err := store.GetCredential(ctx, "alice", "reddit_access_token")
	require.NoError(t, err)
	assert.Equal(t, "token-2", got.Value)
	assert.Equal(t, []string{"read", "identity"}, got.Scopes)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))
	assert.False(t, got.IsRevoked)

	require.NoError(t, store.RevokeCredential(ctx, "alice", "reddit_access_token", "user disconnected", time.Now()))
	got, err = store.GetCredential(ctx, "alice", "reddit_access_token")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
	assert.Equal(t, "user disconnected", got.RevokedReason)
	assert.NotNil(t, got.RevokedAt)

	_, err = store.GetCredential(ctx, "bob", "reddit_access_token")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestSubscriptionsAndReactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub := &models.Subscription{
		ID:                "sub-1",
		UserID:            "alice",
		Provider:          "twitch",
		ExternalID:        "ext-1",
		CallbackURL:       "https://area.example/webhooks/twitch",
		Secret:            "s3cret",
		WatchedEventTypes: []string{"channel.follow"},
		Status:            models.SubscriptionStatusVerificationPending,
		IsActive:          true,
	}
	require.NoError(t, store.SaveSubscription(ctx, sub))

	got, err := store.GetSubscriptionByExternalID(ctx, "twitch", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, []string{"channel.follow"}, got.WatchedEventTypes)

	require.NoError(t, store.UpdateSubscriptionStatus(ctx, "sub-1", models.SubscriptionStatusEnabled, true))
	got, err = store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusEnabled, got.Status)

	subs, err := store.ListSubscriptions(ctx, "twitch")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, store.CreateReactionRecord(ctx, &models.ReactionRecord{
		ID: "r1", EventID: "evt-1", MappingID: "m1", ReactionType: "slack.send_message",
		Status: models.ReactionStatusSuccess, Output: map[string]interface{}{"ts": "123.4"},
	}))
	records, err := store.ListReactionRecords(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "123.4", records[0].Output["ts"])
}
