package executors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/services"
	"area-engine/internal/testutil"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	noop := ExecutorFunc(func(context.Context, *ExecutionContext) Result { return Succeeded(nil) })

	require.NoError(t, r.Register("slack", noop))
	assert.Error(t, r.Register("slack", noop))
	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("github", nil))
	assert.Equal(t, []string{"slack"}, r.Providers())

	r.Unregister("slack")
	r.Unregister("slack")
	assert.Empty(t, r.Providers())
}

func TestRegistry_ExecuteReaction(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	var slackCalls, githubCalls int
	require.NoError(t, r.Register("slack", ExecutorFunc(func(_ context.Context, ec *ExecutionContext) Result {
		slackCalls++
		return Succeeded(map[string]interface{}{"type": ec.Reaction.Type})
	})))
	require.NoError(t, r.Register("github", ExecutorFunc(func(context.Context, *ExecutionContext) Result {
		githubCalls++
		return Succeeded(nil)
	})))
	require.NoError(t, r.Register("boom", ExecutorFunc(func(context.Context, *ExecutionContext) Result {
		panic("kaboom")
	})))
	require.NoError(t, r.Register("quiet", ExecutorFunc(func(context.Context, *ExecutionContext) Result {
		return Result{Success: false}
	})))
	ctx := context.Background()

	t.Run("routes by provider prefix", func(t *testing.T) {
		ec := &ExecutionContext{Reaction: models.TypedConfig{Type: "slack.send_message"}}
		res := r.ExecuteReaction(ctx, "slack.send_message", ec)
		assert.True(t, res.Success)
		assert.Equal(t, "slack.send_message", res.Output["type"])
		assert.Equal(t, 1, slackCalls)
		assert.Equal(t, 0, githubCalls)
	})

	t.Run("only the first segment is structural", func(t *testing.T) {
		res := r.ExecuteReaction(ctx, "slack.channel.archive", &ExecutionContext{})
		assert.True(t, res.Success)
		assert.Equal(t, 2, slackCalls)
	})

	t.Run("empty type", func(t *testing.T) {
		res := r.ExecuteReaction(ctx, "", &ExecutionContext{})
		assert.False(t, res.Success)
		assert.True(t, stderrors.Is(res.Err, ErrInvalidReactionType))

		res = r.ExecuteReaction(ctx, ".send", &ExecutionContext{})
		assert.True(t, stderrors.Is(res.Err, ErrInvalidReactionType))
	})

	t.Run("unregistered provider", func(t *testing.T) {
		res := r.ExecuteReaction(ctx, "unregistered.x", &ExecutionContext{})
		assert.False(t, res.Success)
		assert.True(t, stderrors.Is(res.Err, ErrExecutorNotRegistered))
		assert.Contains(t, res.Error, "unregistered")
	})

	t.Run("panic becomes a failed result", func(t *testing.T) {
		res := r.ExecuteReaction(ctx, "boom.now", &ExecutionContext{})
		assert.False(t, res.Success)
		assert.True(t, stderrors.Is(res.Err, ErrExecutorPanicked))
		assert.Contains(t, res.Error, "kaboom")
	})

	t.Run("failure without message gets one", func(t *testing.T) {
		res := r.ExecuteReaction(ctx, "quiet.x", &ExecutionContext{})
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
	})
}

func TestInterpolate(t *testing.T) {
	payload := map[string]interface{}{
		"post":      map[string]interface{}{"title": "Hello", "score": 42},
		"subreddit": "golang",
	}

	tests := []struct {
		in   string
		want string
	}{
		{"New post: {{post.title}}", "New post: Hello"},
		{"{{ subreddit }} / {{post.score}}", "golang / 42"},
		{"{{post.missing}}", "{{post.missing}}"},
		{"{{post.title.deeper}}", "{{post.title.deeper}}"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Interpolate(tt.in, payload))
	}
	assert.Equal(t, "{{x}}", Interpolate("{{x}}", nil))
}

func TestWebhookExecutor(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	exec := NewWebhookExecutor(srv.Client(), circuitbreaker.NewManager(circuitbreaker.ProviderConfig, logging.NewNopLogger()))
	event := testutil.NewEventBuilder().WithID("evt-1").WithPayload(map[string]interface{}{
		"post": map[string]interface{}{"title": "Hi"},
	}).Build()
	mapping := testutil.NewMappingBuilder().WithID("map-1").Build()
	ctx := context.Background()

	res := exec.Execute(ctx, &ExecutionContext{
		Reaction: models.TypedConfig{Type: WebhookReactionPost, Config: map[string]interface{}{
			"url":     srv.URL + "/hook",
			"message": "got {{post.title}}",
			"headers": map[string]interface{}{"X-Custom": "yes"},
		}},
		Event:   event,
		Mapping: mapping,
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, http.StatusAccepted, res.Output["status_code"])
	assert.Equal(t, "evt-1", received["event_id"])
	assert.Equal(t, "map-1", received["mapping_id"])
	assert.Equal(t, "got Hi", received["message"])

	t.Run("missing url", func(t *testing.T) {
		res := exec.Execute(ctx, &ExecutionContext{Reaction: models.TypedConfig{Type: WebhookReactionPost}})
		assert.False(t, res.Success)
		assert.True(t, errors.IsType(res.Err, errors.ErrTypeValidation))
		assert.Contains(t, res.Error, "missing required field: url")
	})

	t.Run("bad scheme", func(t *testing.T) {
		res := exec.Execute(ctx, &ExecutionContext{Reaction: models.TypedConfig{
			Type:   WebhookReactionPost,
			Config: map[string]interface{}{"url": "ftp://example.com"},
		}})
		assert.True(t, errors.IsType(res.Err, errors.ErrTypeValidation))
	})

	t.Run("upstream error", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer failing.Close()

		res := exec.Execute(ctx, &ExecutionContext{Reaction: models.TypedConfig{
			Type:   WebhookReactionPost,
			Config: map[string]interface{}{"url": failing.URL},
		}})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "status 500")
	})
}

func TestWebhookDescriptor(t *testing.T) {
	reg := services.NewRegistry(logging.NewNopLogger())
	require.NoError(t, reg.Register(WebhookDescriptor()))

	assert.NoError(t, reg.ValidateReactionConfig(WebhookReactionPost, map[string]interface{}{
		"url":     "https://example.com/hook",
		"headers": map[string]interface{}{"X-Token": "abc"},
	}))
	err := reg.ValidateReactionConfig(WebhookReactionPost, map[string]interface{}{"message": "hi"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
