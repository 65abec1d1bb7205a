package webhooks

import (
	"encoding/json"
	"net/http"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/providers/twitch"
)

// EventSub message types.
const (
	twitchVerification = "webhook_callback_verification"
	twitchNotification = "notification"
	twitchRevocation   = "revocation"
)

type twitchMessage struct {
	Subscription struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"subscription"`
	Challenge string                 `json:"challenge"`
	Event     map[string]interface{} `json:"event"`
}

// Twitch handles EventSub deliveries. Each subscription belongs to one user
// and carries its own secret, so events are not fanned out.
func (h *Handler) Twitch(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	messageID := r.Header.Get("Twitch-Eventsub-Message-Id")
	messageType := r.Header.Get("Twitch-Eventsub-Message-Type")
	if messageID == "" || messageType == "" {
		writeError(w, http.StatusBadRequest, "Missing required headers")
		return
	}

	var msg twitchMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.Subscription.ID == "" {
		writeError(w, http.StatusBadRequest, "Invalid EventSub payload")
		return
	}
	log := h.logger.WithFields(
		logging.Field{Key: "provider", Value: twitch.ProviderID},
		logging.Field{Key: "message_type", Value: messageType},
		logging.Field{Key: "subscription_id", Value: msg.Subscription.ID},
	)

	sub, err := h.repo.GetSubscriptionByExternalID(ctx, twitch.ProviderID, msg.Subscription.ID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			log.Warn("Delivery for unknown subscription")
			writeError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		log.Error("Failed to look up subscription", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.twitch.Verify(r, body, sub.Secret); err != nil {
		log.Warn("Rejected Twitch delivery", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	switch messageType {
	case twitchVerification:
		if msg.Challenge == "" {
			writeError(w, http.StatusBadRequest, "Missing challenge")
			return
		}
		if err := h.repo.UpdateSubscriptionStatus(ctx, sub.ID, models.SubscriptionStatusEnabled, true); err != nil {
			log.Error("Failed to enable subscription", err)
		}
		log.Info("Subscription verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(msg.Challenge))

	case twitchRevocation:
		status := msg.Subscription.Status
		if status == "" {
			status = models.SubscriptionStatusRevoked
		}
		if err := h.repo.UpdateSubscriptionStatus(ctx, sub.ID, status, false); err != nil {
			log.Error("Failed to deactivate subscription", err)
		}
		log.Info("Subscription revoked", logging.Field{Key: "reason", Value: status})
		writeStatus(w, "revoked")

	case twitchNotification:
		h.twitchNotification(w, r, log, sub, &msg, messageID)

	default:
		writeStatus(w, "ignored")
	}
}

func (h *Handler) twitchNotification(w http.ResponseWriter, r *http.Request, log logging.Logger, sub *models.Subscription, msg *twitchMessage, messageID string) {
	ctx := r.Context()
	actionType := twitch.ActionType(msg.Subscription.Type)
	if actionType == "" {
		writeStatus(w, "ignored")
		return
	}

	fresh, err := h.claim(ctx, twitch.ProviderID, messageID)
	if err != nil {
		log.Warn("Failed to claim delivery", logging.Field{Key: "error", Value: err.Error()})
		fresh = true
	}
	if !fresh {
		log.Info("Duplicate delivery ignored", logging.Field{Key: "message_id", Value: messageID})
		writeStatus(w, "duplicate")
		return
	}

	payload := make(map[string]interface{}, len(msg.Event)+1)
	for k, v := range msg.Event {
		payload[k] = v
	}
	payload["subscription_type"] = msg.Subscription.Type

	event, err := h.persist(ctx, actionType, sub.UserID, twitch.EventSource, payload)
	if err != nil {
		log.Error("Failed to store Twitch event", err)
		h.release(ctx, twitch.ProviderID, messageID)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.dispatchAsync([]*models.Event{event})

	log.Info("Twitch notification accepted",
		logging.Field{Key: "action_type", Value: actionType},
		logging.Field{Key: "event_id", Value: event.ID},
	)
	writeStatus(w, "accepted", "events", 1)
}
