package reddit

import (
	"context"
	"encoding/json"
	"fmt"
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
	"area-engine/internal/credentials"
	"area-engine/internal/executors"
	"area-engine/internal/models"
	"area-engine/internal/poller"
	"area-engine/internal/testutil"
)

func breakers() *circuitbreaker.Manager {
	return circuitbreaker.NewManager(circuitbreaker.ProviderConfig, logging.NewNopLogger())
}

func listingJSON(names ...string) []byte {
	children := make([]map[string]interface{}, 0, len(names))
	for i, name := range names {
		children = append(children, map[string]interface{}{
			"kind": "t3",
			"data": map[string]interface{}{
				"id":           name[3:],
				"name":         name,
				"title":        "Post " + name,
				"author":       "gopher",
				"subreddit":    "test",
				"url":          "https://example.com/" + name,
				"permalink":    "/r/test/comments/" + name[3:] + "/",
				"created_utc":  1700000000 + i,
				"score":        10,
				"num_comments": 2,
				"selftext":     "",
				"is_self":      false,
			},
		})
	}
	data, _ := json.Marshal(map[string]interface{}{"data": map[string]interface{}{"children": children}})
	return data
}

func TestListingPath(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"golang", "/r/golang/new"},
		{"r/golang", "/r/golang/new"},
		{"u/spez", "/u/spez/submitted"},
		{"user/spez", "/user/spez/submitted"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ListingPath(tt.key), tt.key)
	}
}

func TestResourceKeys(t *testing.T) {
	s := NewSource(nil, "", breakers())

	m := testutil.NewMappingBuilder().WithAction(ActionNewPostInSubreddit, map[string]interface{}{"subreddit": "  R/GoLang "}).Build()
	assert.Equal(t, []string{"r/golang"}, s.ResourceKeys(m))

	m = testutil.NewMappingBuilder().WithAction(ActionNewPostByUser, map[string]interface{}{"username": "u/Spez"}).Build()
	assert.Equal(t, []string{"u/spez"}, s.ResourceKeys(m))

	m = testutil.NewMappingBuilder().WithAction(ActionNewPostByUser, map[string]interface{}{"username": "spez"}).Build()
	assert.Equal(t, []string{"u/spez"}, s.ResourceKeys(m))

	m = testutil.NewMappingBuilder().WithAction(ActionNewPostInSubreddit, map[string]interface{}{}).Build()
	assert.Empty(t, s.ResourceKeys(m))
}

func TestSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/r/test/new.json":
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
			w.Write(listingJSON("t3_b", "t3_a"))
		case "/r/expired/new.json":
			w.WriteHeader(http.StatusUnauthorized)
		case "/r/busy/new.json":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewSource(srv.Client(), srv.URL, breakers())
	cred := &models.Credential{Value: "tok"}
	ctx := context.Background()

	items, err := s.Fetch(ctx, cred, "test")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "t3_b", items[0].ID)
	assert.Equal(t, "https://reddit.com/r/test/comments/b/", items[0].Data["permalink"])
	assert.Equal(t, "b", items[0].Data["id"])

	_, err = s.Fetch(ctx, cred, "expired")
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))

	_, err = s.Fetch(ctx, cred, "busy")
	require.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, appErr.RetryAfter)

	_, err = s.Fetch(ctx, cred, "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestSource_BuildEvent(t *testing.T) {
	s := NewSource(nil, "", breakers())
	s.nowFn = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	m := testutil.NewMappingBuilder().WithAction(ActionNewPostInSubreddit, map[string]interface{}{"subreddit": "test"}).Build()

	event := s.BuildEvent("user-1", "test", poller.Item{ID: "t3_x", Data: map[string]interface{}{"name": "t3_x"}}, m)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ActionNewPostInSubreddit, event.ActionType)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, EventSource, event.Source)
	assert.Equal(t, models.EventStatusReceived, event.Status)
	assert.Equal(t, "test", event.Payload["subreddit"])
	assert.Equal(t, "2024-05-01T12:00:00.000Z", event.Payload["timestamp"])
	assert.Equal(t, "t3_x", event.Payload["post"].(map[string]interface{})["name"])
}

// A subreddit listing [p1,p2] is the baseline; the next listing [p3,p1,p2]
// yields exactly one event for p3.
func TestPollingDetectsNewPost(t *testing.T) {
	var mu sync.Mutex
	listing := []string{"t3_p1", "t3_p2"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Write(listingJSON(listing...))
	}))
	defer srv.Close()

	store := testutil.NewStore(t)
	testutil.SeedMappings(t, store, testutil.NewMappingBuilder().
		WithUser("user-1").
		WithAction(ActionNewPostInSubreddit, map[string]interface{}{"subreddit": "r/test"}).
		Build())
	testutil.SeedAccessToken(t, store, "user-1", ProviderID, "tok", time.Hour)

	creds := credentials.NewStore(store, nil, nil, logging.NewNopLogger())
	var sunk []*models.Event
	p, err := poller.New(poller.Config{MinRequestInterval: time.Millisecond, UserCacheTTL: time.Millisecond},
		NewSource(srv.Client(), srv.URL, breakers()), store, creds, nil,
		func(_ context.Context, e *models.Event) { sunk = append(sunk, e) },
		logging.NewNopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	p.PollActiveUsers(ctx)
	pending, err := store.ListPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "baseline emits nothing")

	p.PollActiveUsers(ctx)
	pending, err = store.ListPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "unchanged listing emits nothing")

	mu.Lock()
	listing = []string{"t3_p3", "t3_p1", "t3_p2"}
	mu.Unlock()

	p.PollActiveUsers(ctx)
	pending, err = store.ListPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	post := pending[0].Payload["post"].(map[string]interface{})
	assert.Equal(t, "t3_p3", post["name"])
	assert.Equal(t, "r/test", pending[0].Payload["subreddit"])
	assert.Equal(t, EventSource, pending[0].Source)
	require.Len(t, sunk, 1)
	assert.Equal(t, pending[0].ID, sunk[0].ID)
}

func TestExecutor(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		got = append(got, fmt.Sprintf("%s %s", r.URL.Path, r.PostForm.Encode()))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	exec := NewExecutor(srv.Client(), srv.URL, breakers())
	ctx := context.Background()
	event := testutil.NewEventBuilder().WithPayload(map[string]interface{}{
		"post": map[string]interface{}{"title": "Gophers"},
	}).Build()
	cred := &models.Credential{Value: "tok"}

	res := exec.Execute(ctx, &executors.ExecutionContext{
		Reaction:      models.TypedConfig{Type: ReactionUpvotePost, Config: map[string]interface{}{"post_id": "t3_abc"}},
		Event:         event,
		ServiceConfig: executors.ServiceConfig{Credentials: cred},
	})
	require.True(t, res.Success, res.Error)

	res = exec.Execute(ctx, &executors.ExecutionContext{
		Reaction: models.TypedConfig{Type: ReactionPostComment, Config: map[string]interface{}{
			"post_id":      "t3_abc",
			"comment_text": "Nice {{post.title}}",
		}},
		Event:         event,
		ServiceConfig: executors.ServiceConfig{Credentials: cred},
	})
	require.True(t, res.Success, res.Error)

	require.Len(t, got, 2)
	assert.Equal(t, "/api/vote dir=1&id=t3_abc", got[0])
	assert.Contains(t, got[1], "/api/comment")
	assert.Contains(t, got[1], "text=Nice+Gophers")

	t.Run("requires credentials", func(t *testing.T) {
		res := exec.Execute(ctx, &executors.ExecutionContext{
			Reaction: models.TypedConfig{Type: ReactionUpvotePost, Config: map[string]interface{}{"post_id": "t3_abc"}},
		})
		assert.True(t, errors.IsType(res.Err, errors.ErrTypeAuth))
	})

	t.Run("requires post id", func(t *testing.T) {
		res := exec.Execute(ctx, &executors.ExecutionContext{
			Reaction:      models.TypedConfig{Type: ReactionUpvotePost},
			ServiceConfig: executors.ServiceConfig{Credentials: cred},
		})
		assert.Equal(t, "validation: missing required field: post_id", res.Error)
	})
}
