package webhooks

import (
	"encoding/json"
	"net/http"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/providers/github"
)

// GitHub handles repository hook deliveries. Hooks created by the engine are
// verified with their stored secret, others with the configured one.
func (h *Handler) GitHub(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	eventName := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	log := h.logger.WithFields(
		logging.Field{Key: "provider", Value: github.ProviderID},
		logging.Field{Key: "event", Value: eventName},
		logging.Field{Key: "delivery_id", Value: deliveryID},
	)

	secret := h.config.GitHubSecret
	if hookID := r.Header.Get("X-GitHub-Hook-ID"); hookID != "" {
		sub, err := h.repo.GetSubscriptionByExternalID(ctx, github.ProviderID, hookID)
		switch {
		case err == nil && sub.Secret != "":
			secret = sub.Secret
		case err != nil && !errors.IsType(err, errors.ErrTypeNotFound):
			log.Error("Failed to look up hook subscription", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}
	if err := h.github.Verify(r, body, secret); err != nil {
		log.Warn("Rejected GitHub delivery", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	if eventName == "ping" {
		writeStatus(w, "pong")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	actionType := github.ActionType(eventName, payload)
	if actionType == "" {
		writeStatus(w, "ignored")
		return
	}

	fresh, err := h.claim(ctx, github.ProviderID, deliveryID)
	if err != nil {
		log.Warn("Failed to claim delivery", logging.Field{Key: "error", Value: err.Error()})
		fresh = true
	}
	if !fresh {
		log.Info("Duplicate delivery ignored")
		writeStatus(w, "duplicate")
		return
	}

	events, err := h.fanOut(ctx, actionType, github.EventSource, payload)
	if err != nil {
		log.Error("Failed to store GitHub events", err)
		h.release(ctx, github.ProviderID, deliveryID)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.dispatchAsync(events)

	log.Info("GitHub delivery accepted",
		logging.Field{Key: "action_type", Value: actionType},
		logging.Field{Key: "events", Value: len(events)},
	)
	writeStatus(w, "accepted", "events", len(events))
}
