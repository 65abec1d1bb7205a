// Package slack provides the Slack service: shared channel events delivered
// through the Events API and a send_message reaction.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	commonhttp "area-engine/internal/common/http"
)

const (
	ProviderID = "slack"

	ActionNewMessage    = "slack.new_message"
	ActionReactionAdded = "slack.reaction_added"
	ReactionSendMessage = "slack.send_message"

	EventSource = "slack-webhook"

	DefaultBaseURL = "https://slack.com/api"
	TokenURL       = "https://slack.com/api/oauth.v2.access"
)

// client calls Web API methods. Slack answers most failures with 200 and
// ok=false, so the envelope is checked on every call.
type client struct {
	api     *commonhttp.APIClient
	baseURL string
	breaker *circuitbreaker.Breaker
}

func newClient(httpClient *http.Client, baseURL string, breakers *circuitbreaker.Manager) *client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &client{
		api:     commonhttp.NewAPIClient(httpClient, "AREA-App/1.0"),
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: breakers.Get(ProviderID),
	}
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (c *client) call(ctx context.Context, token, method string, query url.Values, body interface{}, out interface{}) error {
	req := commonhttp.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/" + method,
		Headers: map[string]string{"Authorization": "Bearer " + token},
	}
	if len(query) > 0 {
		req.URL += "?" + query.Encode()
	}
	if body != nil {
		req.Method = http.MethodPost
		req.Body = body
		req.Headers["Content-Type"] = "application/json; charset=utf-8"
	}

	var resp *commonhttp.Response
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.api.Do(ctx, req)
		return err
	})
	if err != nil {
		return err
	}

	var env envelope
	if err := resp.Decode(&env); err != nil {
		return err
	}
	if !env.OK {
		return apiError(method, env.Error)
	}
	if out != nil {
		return resp.Decode(out)
	}
	return nil
}

func apiError(method, code string) error {
	msg := fmt.Sprintf("slack %s failed: %s", method, code)
	switch code {
	case "not_authed", "invalid_auth", "token_revoked", "token_expired", "account_inactive":
		return errors.AuthError(msg).WithCode(code)
	case "channel_not_found":
		return errors.NotFoundError("slack channel").WithCode(code)
	case "ratelimited":
		return errors.RateLimitError("slack", 0)
	case "invalid_arguments", "no_text", "msg_too_long", "invalid_blocks":
		return errors.ValidationError(msg).WithCode(code)
	}
	return errors.InternalError(msg, nil).WithCode(code)
}
