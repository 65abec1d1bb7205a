package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
	"area-engine/internal/subscriptions"
)

type fakeTwitch struct {
	created   []string
	deleted   []string
	createErr error
}

func (f *fakeTwitch) CreateSubscription(_ context.Context, userID, broadcasterID, eventType, moderatorID string) (*models.Subscription, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, userID+"|"+broadcasterID+"|"+eventType+"|"+moderatorID)
	return &models.Subscription{ID: "sub-1", UserID: userID, Provider: "twitch", ExternalID: "ext-1", Secret: "s3cr3t", Status: "webhook_callback_verification_pending"}, nil
}

func (f *fakeTwitch) DeleteSubscription(_ context.Context, externalID string) error {
	f.deleted = append(f.deleted, externalID)
	return nil
}

func (f *fakeTwitch) GetSubscriptions(context.Context) ([]subscriptions.RemoteSubscription, error) {
	return []subscriptions.RemoteSubscription{{ID: "ext-1", Type: "stream.online", Status: "enabled"}}, nil
}

func (f *fakeTwitch) GetUserID(_ context.Context, login string) (string, error) {
	if login == "ninja" {
		return "19571641", nil
	}
	return "", errors.NotFoundError("twitch user " + login)
}

type fakeGitHub struct {
	created []string
	deleted []int64
}

func (f *fakeGitHub) CreateWebhook(_ context.Context, userID, owner, repo string, events []string) (*models.Subscription, error) {
	f.created = append(f.created, userID+"|"+owner+"/"+repo)
	return &models.Subscription{ID: "sub-2", UserID: userID, Provider: "github", ExternalID: "42", WatchedEventTypes: events}, nil
}

func (f *fakeGitHub) DeleteWebhook(_ context.Context, _, _, _ string, hookID int64) error {
	f.deleted = append(f.deleted, hookID)
	return nil
}

func (f *fixture) send(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	token, err := f.auth.GenerateJWT(userID, "")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestTwitchSubscriptions(t *testing.T) {
	f := newFixture(t)

	t.Run("not configured", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/subscriptions/twitch", "user-1", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	tw := &fakeTwitch{}
	f.h.SetTwitch(tw)

	t.Run("create by login", func(t *testing.T) {
		rec := f.send(t, http.MethodPost, "/api/subscriptions/twitch", "user-1", map[string]string{
			"broadcaster_login": "ninja",
			"event_type":        "stream.online",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, []string{"user-1|19571641|stream.online|"}, tw.created)

		body := decode(t, rec)
		assert.Equal(t, "ext-1", body["external_id"])
		assert.NotContains(t, rec.Body.String(), "s3cr3t")
	})

	t.Run("unknown login", func(t *testing.T) {
		rec := f.send(t, http.MethodPost, "/api/subscriptions/twitch", "user-1", map[string]string{
			"broadcaster_login": "nobody",
			"event_type":        "stream.online",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	tests := []struct {
		name string
		body map[string]string
	}{
		{"no broadcaster", map[string]string{"event_type": "stream.online"}},
		{"unsupported type", map[string]string{"broadcaster_id": "1", "event_type": "channel.raid"}},
		{"follow without moderator", map[string]string{"broadcaster_id": "1", "event_type": "channel.follow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.send(t, http.MethodPost, "/api/subscriptions/twitch", "user-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("upstream failure", func(t *testing.T) {
		tw.createErr = errors.ConnectionError("twitch unavailable", nil)
		defer func() { tw.createErr = nil }()
		rec := f.send(t, http.MethodPost, "/api/subscriptions/twitch", "user-1", map[string]string{
			"broadcaster_id": "1",
			"event_type":     "stream.online",
		})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("list and delete", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/subscriptions/twitch", "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode(t, rec)["subscriptions"], 1)

		rec = f.do(t, http.MethodDelete, "/api/subscriptions/twitch/ext-1", "user-1", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"ext-1"}, tw.deleted)
	})
}

func TestGitHubHooks(t *testing.T) {
	f := newFixture(t)
	gh := &fakeGitHub{}
	f.h.SetGitHub(gh)

	rec := f.send(t, http.MethodPost, "/api/subscriptions/github", "user-1", map[string]interface{}{
		"owner":  "octocat",
		"repo":   "hello-world",
		"events": []string{"push", "issues"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"user-1|octocat/hello-world"}, gh.created)

	rec = f.send(t, http.MethodPost, "/api/subscriptions/github", "user-1", map[string]interface{}{
		"owner":  "octocat",
		"repo":   "hello-world",
		"events": []string{"deployment"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/subscriptions/github/octocat/hello-world/42", "user-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{42}, gh.deleted)

	rec = f.do(t, http.MethodDelete, "/api/subscriptions/github/octocat/hello-world/abc", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
