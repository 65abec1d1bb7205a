package slack

import (
	"context"
	"fmt"
	"net/http"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	"area-engine/internal/executors"
)

// Executor posts messages with the mapping owner's token.
type Executor struct {
	client *client
}

func NewExecutor(httpClient *http.Client, baseURL string, breakers *circuitbreaker.Manager) *Executor {
	return &Executor{client: newClient(httpClient, baseURL, breakers)}
}

func (e *Executor) Execute(ctx context.Context, ec *executors.ExecutionContext) executors.Result {
	if ec.Reaction.Type != ReactionSendMessage {
		return executors.Failed(errors.ValidationError(fmt.Sprintf("unknown Slack reaction type: %s", ec.Reaction.Type)))
	}
	cred := ec.ServiceConfig.Credentials
	if cred == nil || cred.Value == "" {
		return executors.Failed(errors.AuthError("Slack authentication required"))
	}

	channel, err := executors.StringConfig(ec, "channel")
	if err != nil {
		return executors.Failed(err)
	}
	text, err := executors.StringConfig(ec, "message")
	if err != nil {
		return executors.Failed(err)
	}
	if !IsChannelID(channel) {
		channel = "#" + NormalizeChannelName(channel)
	}

	var out struct {
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}
	err = e.client.call(ctx, cred.Value, "chat.postMessage", nil, map[string]interface{}{
		"channel": channel,
		"text":    text,
	}, &out)
	if err != nil {
		return executors.Failed(err)
	}
	return executors.Succeeded(map[string]interface{}{
		"channel":   out.Channel,
		"messageId": out.TS,
		"timestamp": out.TS,
	})
}
