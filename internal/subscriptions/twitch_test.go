package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/oauth2"
	"area-engine/internal/testutil"
)

type fakeAppTokens struct {
	mu          sync.Mutex
	issued      int
	invalidated int
}

func (f *fakeAppTokens) AppToken(context.Context, string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return &oauth2.Token{AccessToken: "app-token", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeAppTokens) InvalidateAppToken(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	return nil
}

// fakeHelix is a minimal EventSub API.
type fakeHelix struct {
	t        *testing.T
	mu       sync.Mutex
	subs     []RemoteSubscription
	posts    []map[string]interface{}
	deletes  []string
	conflict bool
	status   string
	empty    bool
	rejectN  int
}

func (h *fakeHelix) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	assert.Equal(h.t, "client-id", r.Header.Get("Client-Id"))
	if h.rejectN > 0 {
		h.rejectN--
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`))
		return
	}
	assert.Equal(h.t, "Bearer app-token", r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/eventsub/subscriptions" && r.Method == http.MethodPost:
		var body map[string]interface{}
		require.NoError(h.t, json.NewDecoder(r.Body).Decode(&body))
		h.posts = append(h.posts, body)
		if h.conflict {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"Conflict","status":409,"message":"subscription already exists"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		if h.empty {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		cond := map[string]string{}
		for k, v := range body["condition"].(map[string]interface{}) {
			cond[k] = v.(string)
		}
		sub := RemoteSubscription{ID: "sub-" + body["type"].(string), Status: h.status, Type: body["type"].(string), Condition: cond}
		h.subs = append(h.subs, sub)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []RemoteSubscription{sub}})
	case r.URL.Path == "/eventsub/subscriptions" && r.Method == http.MethodGet:
		var out []RemoteSubscription
		for _, s := range h.subs {
			if typ := r.URL.Query().Get("type"); typ == "" || s.Type == typ {
				out = append(out, s)
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": out, "pagination": map[string]string{}})
	case r.URL.Path == "/eventsub/subscriptions" && r.Method == http.MethodDelete:
		id := r.URL.Query().Get("id")
		h.deletes = append(h.deletes, id)
		kept := h.subs[:0]
		for _, s := range h.subs {
			if s.ID != id {
				kept = append(kept, s)
			}
		}
		h.subs = kept
		// a successful recreation clears the conflict
		if !h.stickyConflict() {
			h.conflict = false
		}
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/users":
		if r.URL.Query().Get("login") == "streamer" {
			w.Write([]byte(`{"data":[{"id":"1234","login":"streamer"}]}`))
			return
		}
		w.Write([]byte(`{"data":[]}`))
	default:
		h.t.Errorf("unexpected request %s %s", r.Method, r.URL)
	}
}

func (h *fakeHelix) stickyConflict() bool {
	return h.status == "sticky"
}

func newTwitchManager(t *testing.T, h *fakeHelix) (*TwitchManager, *fakeAppTokens, Repository) {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tokens := &fakeAppTokens{}
	store := testutil.NewStore(t)
	m, err := NewTwitchManager(TwitchConfig{
		ClientID:    "client-id",
		APIBaseURL:  srv.URL,
		CallbackURL: "https://area.example.com/webhooks/twitch",
	}, tokens, store, srv.Client(), circuitbreaker.NewManager(circuitbreaker.ProviderConfig, logging.NewNopLogger()), logging.NewNopLogger())
	require.NoError(t, err)
	return m, tokens, store
}

func TestTwitchManager_CreateSubscription(t *testing.T) {
	h := &fakeHelix{t: t, status: models.SubscriptionStatusVerificationPending}
	m, _, store := newTwitchManager(t, h)
	ctx := context.Background()

	sub, err := m.CreateSubscription(ctx, "u1", "1234", "channel.follow", "1234")
	require.NoError(t, err)

	require.Len(t, h.posts, 1)
	post := h.posts[0]
	assert.Equal(t, "2", post["version"])
	assert.Equal(t, map[string]interface{}{"broadcaster_user_id": "1234", "moderator_user_id": "1234"}, post["condition"])
	transport := post["transport"].(map[string]interface{})
	assert.Equal(t, "webhook", transport["method"])
	assert.Equal(t, "https://area.example.com/webhooks/twitch", transport["callback"])
	assert.Len(t, transport["secret"], 64)

	assert.Equal(t, "sub-channel.follow", sub.ExternalID)
	assert.Equal(t, transport["secret"], sub.Secret)
	assert.Equal(t, models.SubscriptionStatusVerificationPending, sub.Status)

	stored, err := store.GetSubscriptionByExternalID(ctx, "twitch", sub.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, sub.Secret, stored.Secret)
	assert.Equal(t, []string{"channel.follow"}, stored.WatchedEventTypes)

	_, err = m.CreateSubscription(ctx, "u1", "1234", "stream.online", "")
	require.NoError(t, err)
	assert.Equal(t, "1", h.posts[1]["version"])
	assert.NotContains(t, h.posts[1]["condition"], "moderator_user_id")
}

func TestTwitchManager_Validation(t *testing.T) {
	h := &fakeHelix{t: t}
	m, _, _ := newTwitchManager(t, h)

	_, err := m.CreateSubscription(context.Background(), "u1", "1234", "channel.follow", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, err.Error(), "moderatorId is required for channel.follow")
	assert.Empty(t, h.posts)
}

func TestTwitchManager_EmptyResponse(t *testing.T) {
	h := &fakeHelix{t: t, empty: true}
	m, _, _ := newTwitchManager(t, h)

	_, err := m.CreateSubscription(context.Background(), "u1", "1234", "stream.online", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid response from Twitch API")
}

func TestTwitchManager_ConflictReusesPending(t *testing.T) {
	h := &fakeHelix{t: t, status: models.SubscriptionStatusVerificationPending}
	m, _, _ := newTwitchManager(t, h)
	ctx := context.Background()

	first, err := m.CreateSubscription(ctx, "u1", "1234", "stream.online", "")
	require.NoError(t, err)

	h.conflict = true
	second, err := m.CreateSubscription(ctx, "u1", "1234", "stream.online", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Secret, second.Secret)
	assert.Empty(t, h.deletes)
}

func TestTwitchManager_ConflictRecreatesFailed(t *testing.T) {
	h := &fakeHelix{t: t, status: models.SubscriptionStatusVerificationFailed}
	m, _, store := newTwitchManager(t, h)
	ctx := context.Background()

	first, err := m.CreateSubscription(ctx, "u1", "1234", "stream.online", "")
	require.NoError(t, err)

	h.conflict = true
	h.status = models.SubscriptionStatusVerificationPending
	h.subs[0].Status = models.SubscriptionStatusVerificationFailed

	second, err := m.CreateSubscription(ctx, "u1", "1234", "stream.online", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-stream.online"}, h.deletes)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Secret, second.Secret)
	assert.Equal(t, models.SubscriptionStatusVerificationPending, second.Status)
	assert.Len(t, h.posts, 3)

	old, err := store.GetSubscriptionByExternalID(ctx, "twitch", "sub-stream.online")
	require.NoError(t, err)
	assert.Equal(t, "sub-stream.online", old.ExternalID)
}

func TestTwitchManager_ConflictRetriesOnce(t *testing.T) {
	h := &fakeHelix{t: t, status: "sticky", conflict: true}
	h.subs = []RemoteSubscription{{
		ID:        "stale",
		Status:    models.SubscriptionStatusVerificationFailed,
		Type:      "stream.online",
		Condition: map[string]string{"broadcaster_user_id": "1234"},
	}}
	m, _, _ := newTwitchManager(t, h)

	// the stale subscription is gone after the first delete, so the second
	// conflict cannot be resolved
	_, err := m.CreateSubscription(context.Background(), "u1", "1234", "stream.online", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))
	assert.Len(t, h.posts, 2)
	assert.Equal(t, []string{"stale"}, h.deletes)
}

func TestTwitchManager_RetriesRejectedAppToken(t *testing.T) {
	h := &fakeHelix{t: t, rejectN: 1}
	m, tokens, _ := newTwitchManager(t, h)

	id, err := m.GetUserID(context.Background(), " Streamer ")
	require.NoError(t, err)
	assert.Equal(t, "1234", id)
	assert.Equal(t, 1, tokens.invalidated)
	assert.Equal(t, 2, tokens.issued)
}

func TestTwitchManager_Lookups(t *testing.T) {
	h := &fakeHelix{t: t, status: models.SubscriptionStatusEnabled}
	m, _, store := newTwitchManager(t, h)
	ctx := context.Background()

	_, err := m.GetUserID(ctx, "nobody")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	sub, err := m.CreateSubscription(ctx, "u1", "1234", "stream.offline", "")
	require.NoError(t, err)

	remote, err := m.GetSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, "stream.offline", remote[0].Type)

	require.NoError(t, m.DeleteSubscription(ctx, sub.ExternalID))
	stored, err := store.GetSubscriptionByExternalID(ctx, "twitch", sub.ExternalID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	require.NoError(t, m.DeleteSubscription(ctx, "unknown"))
}
