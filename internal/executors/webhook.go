package executors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/services"
)

// WebhookReactionPost posts the event to a user-supplied URL.
const WebhookReactionPost = "webhook.post"

// WebhookDescriptor describes the built-in webhook service. It has reactions
// only.
func WebhookDescriptor() services.Descriptor {
	return services.Descriptor{
		ID:          "webhook",
		Name:        "Webhook",
		Description: "Outgoing HTTP callbacks",
		Version:     "1.0.0",
		Reactions: []services.ReactionDescriptor{{
			ID:          WebhookReactionPost,
			Name:        "POST to URL",
			Description: "Send the event as JSON to a URL",
			ConfigSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"url"},
				"properties": map[string]interface{}{
					"url":     map[string]interface{}{"type": "string", "minLength": 1},
					"message": map[string]interface{}{"type": "string"},
					"headers": map[string]interface{}{
						"type":                 "object",
						"additionalProperties": map[string]interface{}{"type": "string"},
					},
				},
			},
		}},
	}
}

// WebhookExecutor performs the built-in webhook reactions. It needs no
// credentials.
type WebhookExecutor struct {
	api      *commonhttp.APIClient
	breakers *circuitbreaker.Manager
}

func NewWebhookExecutor(client *http.Client, breakers *circuitbreaker.Manager) *WebhookExecutor {
	return &WebhookExecutor{
		api:      commonhttp.NewAPIClient(client, "AREA-App/1.0"),
		breakers: breakers,
	}
}

func (e *WebhookExecutor) Execute(ctx context.Context, ec *ExecutionContext) Result {
	if ec.Reaction.Type != WebhookReactionPost {
		return Failed(errors.ValidationError(fmt.Sprintf("unknown webhook reaction type: %s", ec.Reaction.Type)))
	}

	target, err := StringConfig(ec, "url")
	if err != nil {
		return Failed(err)
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Failed(errors.ValidationError(fmt.Sprintf("invalid url: %s", target)))
	}

	var payload map[string]interface{}
	body := map[string]interface{}{}
	if ec.Event != nil {
		payload = ec.Event.Payload
		body["event_id"] = ec.Event.ID
		body["action_type"] = ec.Event.ActionType
		body["payload"] = ec.Event.Payload
	}
	if ec.Mapping != nil {
		body["mapping_id"] = ec.Mapping.ID
	}
	if msg, _ := ec.Reaction.Config["message"].(string); strings.TrimSpace(msg) != "" {
		body["message"] = Interpolate(msg, payload)
	}

	headers := map[string]string{}
	if hs, ok := ec.Reaction.Config["headers"].(map[string]interface{}); ok {
		for k, v := range hs {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	var resp *commonhttp.Response
	err = e.breakers.Get("webhook:"+u.Host).Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.api.Do(ctx, commonhttp.Request{
			Method:  http.MethodPost,
			URL:     target,
			Headers: headers,
			Body:    body,
		})
		return err
	})
	if err != nil {
		return Failed(err)
	}
	return Succeeded(map[string]interface{}{
		"status_code": resp.StatusCode,
		"url":         target,
	})
}
