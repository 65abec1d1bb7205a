package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/executors"
	"area-engine/internal/models"
	"area-engine/internal/services"
	"area-engine/internal/testutil"
)

func TestActionType(t *testing.T) {
	tests := []struct {
		event   string
		payload map[string]interface{}
		want    string
	}{
		{"push", map[string]interface{}{}, ActionPush},
		{"pull_request", map[string]interface{}{"action": "opened"}, ActionPullRequestOpened},
		{"pull_request", map[string]interface{}{"action": "closed"}, ""},
		{"issues", map[string]interface{}{"action": "opened"}, ActionIssueOpened},
		{"star", map[string]interface{}{"action": "created"}, ActionNewStar},
		{"star", map[string]interface{}{"action": "deleted"}, ""},
		{"ping", map[string]interface{}{}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ActionType(tt.event, tt.payload), tt.event)
	}

	assert.Equal(t, []string{"push", "star"}, EventTypes(ActionPush, ActionNewStar, ActionPush, "reddit.new_post_in_subreddit"))
}

func TestRepositoryFilter(t *testing.T) {
	event := testutil.NewEventBuilder().
		WithActionType(ActionPush).
		WithPayload(map[string]interface{}{"repository": map[string]interface{}{"full_name": "Octo/Hello"}}).
		Build()

	for config, want := range map[string]bool{"": true, "octo/hello": true, "OCTO/HELLO": true, "octo/other": false} {
		m := testutil.NewMappingBuilder().WithAction(ActionPush, map[string]interface{}{"repository": config}).Build()
		ok, err := RepositoryFilter(context.Background(), event, m, m.CreatedBy)
		require.NoError(t, err)
		assert.Equal(t, want, ok, config)
	}
}

func TestSplitRepository(t *testing.T) {
	owner, repo, ok := SplitRepository("octo/hello")
	assert.True(t, ok)
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "hello", repo)

	for _, bad := range []string{"", "octo", "/hello", "octo/", "a/b/c"} {
		_, _, ok := SplitRepository(bad)
		assert.False(t, ok, bad)
	}
}

func TestDescriptorRegisters(t *testing.T) {
	reg := services.NewRegistry(logging.NewNopLogger())
	require.NoError(t, reg.Register(Descriptor(nil)))

	action, ok := reg.GetActionByType(ActionPush)
	require.True(t, ok)
	assert.True(t, action.Metadata.SharedEvents)
	assert.NotNil(t, action.Metadata.SharedEventFilter)

	assert.NoError(t, reg.ValidateActionConfig(ActionPush, map[string]interface{}{"repository": "octo/hello"}))
	assert.Error(t, reg.ValidateActionConfig(ActionPush, map[string]interface{}{"repository": "not a repo"}))
	assert.Error(t, reg.ValidateReactionConfig(ReactionCreateIssue, map[string]interface{}{"repository": "octo/hello"}))
}

func TestExecutor(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_user", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/repos/octo/hello/issues":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":1,"number":42,"title":"Push by alice","html_url":"https://github.com/octo/hello/issues/42","state":"open"}`))
		case "/repos/octo/hello/issues/42/comments":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":7,"html_url":"https://github.com/octo/hello/issues/42#issuecomment-7"}`))
		case "/repos/octo/private/issues":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not Found"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	exec := NewExecutor(srv.Client(), srv.URL, circuitbreaker.NewManager(circuitbreaker.ProviderConfig, logging.NewNopLogger()))
	ctx := context.Background()
	event := testutil.NewEventBuilder().WithPayload(map[string]interface{}{"pusher": map[string]interface{}{"name": "alice"}}).Build()

	ec := func(typ string, config map[string]interface{}) *executors.ExecutionContext {
		return &executors.ExecutionContext{
			Reaction:      models.TypedConfig{Type: typ, Config: config},
			Event:         event,
			ServiceConfig: executors.ServiceConfig{Credentials: &models.Credential{Value: "gho_user"}},
		}
	}

	t.Run("create issue", func(t *testing.T) {
		res := exec.Execute(ctx, ec(ReactionCreateIssue, map[string]interface{}{
			"repository": "octo/hello",
			"title":      "Push by {{pusher.name}}",
			"labels":     "bug, automation",
		}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "Push by alice", got["title"])
		assert.Equal(t, []interface{}{"bug", "automation"}, got["labels"])
		issue := res.Output["issue"].(map[string]interface{})
		assert.Equal(t, 42, issue["number"])
	})

	t.Run("add comment", func(t *testing.T) {
		res := exec.Execute(ctx, ec(ReactionAddComment, map[string]interface{}{
			"repository":   "octo/hello",
			"issue_number": float64(42),
			"body":         "thanks",
		}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "thanks", got["body"])
	})

	t.Run("invalid repository", func(t *testing.T) {
		res := exec.Execute(ctx, ec(ReactionCreateIssue, map[string]interface{}{"repository": "hello", "title": "x"}))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "owner/repo")
	})

	t.Run("bad issue number", func(t *testing.T) {
		res := exec.Execute(ctx, ec(ReactionAddComment, map[string]interface{}{"repository": "octo/hello", "issue_number": "abc", "body": "x"}))
		assert.True(t, errors.IsType(res.Err, errors.ErrTypeValidation))
	})

	t.Run("provider error", func(t *testing.T) {
		res := exec.Execute(ctx, ec(ReactionCreateIssue, map[string]interface{}{"repository": "octo/private", "title": "x"}))
		assert.False(t, res.Success)
		assert.True(t, errors.IsType(res.Err, errors.ErrTypeNotFound))
	})

	t.Run("no credential", func(t *testing.T) {
		c := ec(ReactionCreateIssue, map[string]interface{}{"repository": "octo/hello", "title": "x"})
		c.ServiceConfig.Credentials = nil
		res := exec.Execute(ctx, c)
		assert.True(t, errors.IsType(res.Err, errors.ErrTypeAuth))
	})
}
