package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/executors"
)

// Executor performs Reddit reactions with the user's access token.
type Executor struct {
	api     *commonhttp.APIClient
	baseURL string
	breaker *circuitbreaker.Breaker
}

func NewExecutor(client *http.Client, baseURL string, breakers *circuitbreaker.Manager) *Executor {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Executor{
		api:     commonhttp.NewAPIClient(client, UserAgent),
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: breakers.Get(ProviderID),
	}
}

func (e *Executor) Execute(ctx context.Context, ec *executors.ExecutionContext) executors.Result {
	cred := ec.ServiceConfig.Credentials
	if cred == nil || cred.Value == "" {
		return executors.Failed(errors.AuthError("Reddit authentication required"))
	}

	postID, err := executors.StringConfig(ec, "post_id")
	if err != nil {
		return executors.Failed(err)
	}

	form := url.Values{}
	var path string
	switch ec.Reaction.Type {
	case ReactionUpvotePost:
		path = "/api/vote"
		form.Set("id", postID)
		form.Set("dir", "1")
	case ReactionPostComment:
		text, err := executors.StringConfig(ec, "comment_text")
		if err != nil {
			return executors.Failed(err)
		}
		path = "/api/comment"
		form.Set("thing_id", postID)
		form.Set("text", text)
		form.Set("api_type", "json")
	default:
		return executors.Failed(errors.ValidationError(fmt.Sprintf("unknown Reddit reaction type: %s", ec.Reaction.Type)))
	}

	err = e.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := e.api.Do(ctx, commonhttp.Request{
			Method: http.MethodPost,
			URL:    e.baseURL + path,
			Headers: map[string]string{
				"Authorization": "Bearer " + cred.Value,
				"Content-Type":  "application/x-www-form-urlencoded",
			},
			Body: strings.NewReader(form.Encode()),
		})
		return err
	})
	if err != nil {
		return executors.Failed(err)
	}
	return executors.Succeeded(map[string]interface{}{"post_id": postID})
}
