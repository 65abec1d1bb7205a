// Package webhooks receives provider push deliveries, verifies them, turns
// them into events and hands the events to the dispatcher.
package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"area-engine/internal/common/cache"
	"area-engine/internal/common/logging"
	"area-engine/internal/dispatch"
	"area-engine/internal/models"
	"area-engine/internal/signature"
)

const maxBodySize = 5 << 20

// Repository is the storage the handlers use.
type Repository interface {
	ListActiveMappingsByActionType(ctx context.Context, actionType string) ([]*models.Mapping, error)
	CreateEvent(ctx context.Context, event *models.Event) error
	GetSubscriptionByExternalID(ctx context.Context, provider, externalID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string, active bool) error
}

// Dispatcher runs the reactions for a persisted event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.Event) (*dispatch.Report, error)
}

type Config struct {
	// GitHubSecret verifies hooks without a stored subscription.
	GitHubSecret       string
	SlackSigningSecret string
	// DedupTTL is how long a delivery id is remembered.
	DedupTTL time.Duration
	// DispatchTimeout bounds the background dispatch of one event.
	DispatchTimeout time.Duration
}

type Handler struct {
	config     Config
	repo       Repository
	dispatcher Dispatcher
	dedup      cache.Cache
	github     *signature.Verifier
	twitch     *signature.Verifier
	slack      *signature.Verifier
	logger     logging.Logger
	nowFn      func() time.Time
	wg         sync.WaitGroup
}

// NewHandler creates the webhook handlers. A nil dispatcher leaves events
// received for the execution service; a nil dedup keeps delivery ids in memory.
func NewHandler(config Config, repo Repository, dispatcher Dispatcher, dedup cache.Cache, logger logging.Logger) *Handler {
	if config.DedupTTL <= 0 {
		config.DedupTTL = 24 * time.Hour
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = 2 * time.Minute
	}
	if dedup == nil {
		dedup = cache.NewLocalCache(config.DedupTTL, 10*time.Minute)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.Field{Key: "component", Value: "webhooks"})
	return &Handler{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		dedup:      dedup,
		github:     signature.NewVerifier(signature.GitHub, logger),
		twitch:     signature.NewVerifier(signature.Twitch, logger),
		slack:      signature.NewVerifier(signature.Slack, logger),
		logger:     logger,
		nowFn:      time.Now,
	}
}

// RegisterRoutes mounts the handlers under /webhooks, wrapped in mw.
func (h *Handler) RegisterRoutes(r *mux.Router, mw ...mux.MiddlewareFunc) {
	sub := r.PathPrefix("/webhooks").Subrouter()
	sub.Use(mw...)
	sub.HandleFunc("/github", h.GitHub).Methods(http.MethodPost)
	sub.HandleFunc("/twitch", h.Twitch).Methods(http.MethodPost)
	sub.HandleFunc("/slack", h.Slack).Methods(http.MethodPost)
}

// Wait blocks until background dispatches finish.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// claim reports whether deliveryID is new. An empty id is always new.
func (h *Handler) claim(ctx context.Context, provider, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return true, nil
	}
	return h.dedup.SetNX(ctx, "webhook:"+provider+":"+deliveryID, "1", h.config.DedupTTL)
}

func (h *Handler) release(ctx context.Context, provider, deliveryID string) {
	if deliveryID == "" {
		return
	}
	if err := h.dedup.Delete(ctx, "webhook:"+provider+":"+deliveryID); err != nil {
		h.logger.Warn("Failed to release delivery claim", logging.Field{Key: "error", Value: err.Error()})
	}
}

// fanOut creates one event per user owning an active mapping for actionType.
func (h *Handler) fanOut(ctx context.Context, actionType, source string, payload map[string]interface{}) ([]*models.Event, error) {
	mappings, err := h.repo.ListActiveMappingsByActionType(ctx, actionType)
	if err != nil {
		return nil, err
	}
	users := lo.Uniq(lo.Map(mappings, func(m *models.Mapping, _ int) string { return m.CreatedBy }))

	events := make([]*models.Event, 0, len(users))
	for _, userID := range users {
		event, err := h.persist(ctx, actionType, userID, source, payload)
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (h *Handler) persist(ctx context.Context, actionType, userID, source string, payload map[string]interface{}) (*models.Event, error) {
	event := &models.Event{
		ID:         uuid.NewString(),
		ActionType: actionType,
		UserID:     userID,
		Payload:    payload,
		Source:     source,
		Status:     models.EventStatusReceived,
		CreatedAt:  h.nowFn().UTC(),
	}
	if err := h.repo.CreateEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// dispatchAsync runs the dispatcher detached from the request.
func (h *Handler) dispatchAsync(events []*models.Event) {
	if h.dispatcher == nil {
		return
	}
	for _, event := range events {
		h.wg.Add(1)
		go func(event *models.Event) {
			defer h.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), h.config.DispatchTimeout)
			defer cancel()
			if _, err := h.dispatcher.Dispatch(ctx, event); err != nil {
				h.logger.Error("Failed to dispatch webhook event", err,
					logging.Field{Key: "event_id", Value: event.ID},
					logging.Field{Key: "action_type", Value: event.ActionType},
				)
			}
		}(event)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStatus(w http.ResponseWriter, status string, extra ...interface{}) {
	resp := map[string]interface{}{"status": status}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			resp[k] = extra[i+1]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
