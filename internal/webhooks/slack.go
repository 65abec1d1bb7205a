package webhooks

import (
	"encoding/json"
	"net/http"

	"area-engine/internal/common/logging"
	"area-engine/internal/providers/slack"
)

type slackEnvelope struct {
	Type      string                 `json:"type"`
	Challenge string                 `json:"challenge"`
	TeamID    string                 `json:"team_id"`
	EventID   string                 `json:"event_id"`
	Event     map[string]interface{} `json:"event"`
}

// Slack handles Events API deliveries. One app receives events for every
// workspace, so each event is fanned out and filtered by channel.
func (h *Handler) Slack(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.slack.Verify(r, body, h.config.SlackSigningSecret); err != nil {
		h.logger.Warn("Rejected Slack delivery",
			logging.Field{Key: "provider", Value: slack.ProviderID},
			logging.Field{Key: "error", Value: err.Error()},
		)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var env slackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	switch env.Type {
	case "url_verification":
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	case "event_callback":
	default:
		writeStatus(w, "ignored")
		return
	}
	if env.Event == nil {
		writeError(w, http.StatusBadRequest, "No event in payload")
		return
	}

	log := h.logger.WithFields(
		logging.Field{Key: "provider", Value: slack.ProviderID},
		logging.Field{Key: "event_id", Value: env.EventID},
	)
	actionType := slackActionType(env.Event)
	if actionType == "" {
		writeStatus(w, "ignored")
		return
	}

	fresh, err := h.claim(ctx, slack.ProviderID, env.EventID)
	if err != nil {
		log.Warn("Failed to claim delivery", logging.Field{Key: "error", Value: err.Error()})
		fresh = true
	}
	if !fresh {
		log.Info("Duplicate delivery ignored")
		writeStatus(w, "duplicate")
		return
	}

	payload := make(map[string]interface{}, len(env.Event)+1)
	for k, v := range env.Event {
		payload[k] = v
	}
	payload["team_id"] = env.TeamID

	events, err := h.fanOut(ctx, actionType, slack.EventSource, payload)
	if err != nil {
		log.Error("Failed to store Slack events", err)
		h.release(ctx, slack.ProviderID, env.EventID)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.dispatchAsync(events)

	log.Info("Slack event accepted",
		logging.Field{Key: "action_type", Value: actionType},
		logging.Field{Key: "events", Value: len(events)},
	)
	writeStatus(w, "accepted", "events", len(events))
}

// slackActionType maps an inner event to an action type. Messages posted by
// bots are skipped so send_message reactions do not trigger themselves.
func slackActionType(event map[string]interface{}) string {
	typ, _ := event["type"].(string)
	switch typ {
	case "message":
		if _, bot := event["bot_id"]; bot {
			return ""
		}
		if subtype, _ := event["subtype"].(string); subtype != "" {
			return ""
		}
		return slack.ActionNewMessage
	case "reaction_added":
		return slack.ActionReactionAdded
	}
	return ""
}
