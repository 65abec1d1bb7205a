package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"area-engine/internal/auth"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/subscriptions"
)

// TwitchSubscriptions manages EventSub subscriptions.
// *subscriptions.TwitchManager implements it.
type TwitchSubscriptions interface {
	CreateSubscription(ctx context.Context, userID, broadcasterID, eventType, moderatorID string) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, externalID string) error
	GetSubscriptions(ctx context.Context) ([]subscriptions.RemoteSubscription, error)
	GetUserID(ctx context.Context, login string) (string, error)
}

// GitHubHooks manages repository hooks. *subscriptions.GitHubManager
// implements it.
type GitHubHooks interface {
	CreateWebhook(ctx context.Context, userID, owner, repo string, events []string) (*models.Subscription, error)
	DeleteWebhook(ctx context.Context, userID, owner, repo string, hookID int64) error
}

type twitchSubscriptionRequest struct {
	BroadcasterID    string `json:"broadcaster_id" validate:"required_without=BroadcasterLogin"`
	BroadcasterLogin string `json:"broadcaster_login"`
	EventType        string `json:"event_type" validate:"required,oneof=channel.follow stream.online stream.offline"`
	ModeratorID      string `json:"moderator_id" validate:"required_if=EventType channel.follow"`
}

type githubHookRequest struct {
	Owner  string   `json:"owner" validate:"required"`
	Repo   string   `json:"repo" validate:"required"`
	Events []string `json:"events" validate:"required,min=1,dive,oneof=push pull_request issues star"`
}

var validate = validator.New()

// SetTwitch enables the Twitch subscription endpoints.
func (h *Handlers) SetTwitch(t TwitchSubscriptions) {
	h.twitch = t
}

// SetGitHub enables the GitHub hook endpoints.
func (h *Handlers) SetGitHub(g GitHubHooks) {
	h.github = g
}

func (h *Handlers) registerSubscriptionRoutes(api *mux.Router) {
	api.HandleFunc("/subscriptions/twitch", h.ListTwitchSubscriptions).Methods(http.MethodGet)
	api.HandleFunc("/subscriptions/twitch", h.CreateTwitchSubscription).Methods(http.MethodPost)
	api.HandleFunc("/subscriptions/twitch/{id}", h.DeleteTwitchSubscription).Methods(http.MethodDelete)
	api.HandleFunc("/subscriptions/github", h.CreateGitHubHook).Methods(http.MethodPost)
	api.HandleFunc("/subscriptions/github/{owner}/{repo}/{hook_id}", h.DeleteGitHubHook).Methods(http.MethodDelete)
}

func (h *Handlers) CreateTwitchSubscription(w http.ResponseWriter, r *http.Request) {
	if h.twitch == nil {
		writeError(w, http.StatusServiceUnavailable, "Twitch subscriptions are not configured")
		return
	}
	var req twitchSubscriptionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	broadcasterID := req.BroadcasterID
	if broadcasterID == "" {
		id, err := h.twitch.GetUserID(r.Context(), req.BroadcasterLogin)
		if err != nil {
			h.writeAppError(w, "Failed to resolve broadcaster", err)
			return
		}
		broadcasterID = id
	}

	sub, err := h.twitch.CreateSubscription(r.Context(), userID(r), broadcasterID, req.EventType, req.ModeratorID)
	if err != nil {
		h.writeAppError(w, "Failed to create subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handlers) ListTwitchSubscriptions(w http.ResponseWriter, r *http.Request) {
	if h.twitch == nil {
		writeError(w, http.StatusServiceUnavailable, "Twitch subscriptions are not configured")
		return
	}
	subs, err := h.twitch.GetSubscriptions(r.Context())
	if err != nil {
		h.writeAppError(w, "Failed to list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []subscriptions.RemoteSubscription{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

func (h *Handlers) DeleteTwitchSubscription(w http.ResponseWriter, r *http.Request) {
	if h.twitch == nil {
		writeError(w, http.StatusServiceUnavailable, "Twitch subscriptions are not configured")
		return
	}
	if err := h.twitch.DeleteSubscription(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeAppError(w, "Failed to delete subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CreateGitHubHook(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, http.StatusServiceUnavailable, "GitHub hooks are not configured")
		return
	}
	var req githubHookRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	sub, err := h.github.CreateWebhook(r.Context(), userID(r), req.Owner, req.Repo, req.Events)
	if err != nil {
		h.writeAppError(w, "Failed to create hook", err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handlers) DeleteGitHubHook(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, http.StatusServiceUnavailable, "GitHub hooks are not configured")
		return
	}
	vars := mux.Vars(r)
	hookID, err := strconv.ParseInt(vars["hook_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hook ID")
		return
	}

	if err := h.github.DeleteWebhook(r.Context(), userID(r), vars["owner"], vars["repo"], hookID); err != nil {
		h.writeAppError(w, "Failed to delete hook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func userID(r *http.Request) string {
	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		return claims.UserID
	}
	return ""
}

// writeAppError maps the error taxonomy onto a response status.
func (h *Handlers) writeAppError(w http.ResponseWriter, msg string, err error) {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.ErrTypeNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case errors.ErrTypeAuth:
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.ErrTypeConflict:
		writeError(w, http.StatusConflict, err.Error())
	case errors.ErrTypeConnection, errors.ErrTypeTimeout, errors.ErrTypeRateLimit:
		h.logger.Warn(msg, logging.Err(err))
		writeError(w, http.StatusBadGateway, msg)
	default:
		h.logger.Error(msg, err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}
