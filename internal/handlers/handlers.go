// Package handlers serves the engine's internal HTTP API: service discovery,
// health, poller control and event inspection.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"area-engine/internal/auth"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/poller"
	"area-engine/internal/services"
)

// EventReader is the storage the event endpoint reads from.
type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListReactionRecords(ctx context.Context, eventID string) ([]*models.ReactionRecord, error)
}

// Poller is a controllable polling loop.
type Poller interface {
	Provider() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() poller.Status
}

// HealthCheck reports a component's health; nil means healthy.
type HealthCheck func() error

type Handlers struct {
	// baseCtx outlives requests; pollers started over HTTP run on it.
	baseCtx  context.Context
	registry *services.Registry
	events   EventReader
	pollers  map[string]Poller
	checks   map[string]HealthCheck
	auth     *auth.Auth
	twitch   TwitchSubscriptions
	github   GitHubHooks
	logger   logging.Logger
}

func New(baseCtx context.Context, registry *services.Registry, events EventReader, authHandler *auth.Auth, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		baseCtx:  baseCtx,
		registry: registry,
		events:   events,
		pollers:  make(map[string]Poller),
		checks:   make(map[string]HealthCheck),
		auth:     authHandler,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "api"}),
	}
}

// AddPoller exposes p under /api/pollers/{provider}.
func (h *Handlers) AddPoller(p Poller) {
	h.pollers[p.Provider()] = p
}

// AddHealthCheck includes check in /health under name.
func (h *Handlers) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// RegisterRoutes mounts the API. mw wraps the authenticated routes and runs
// after authentication.
func (h *Handlers) RegisterRoutes(r *mux.Router, mw ...mux.MiddlewareFunc) {
	r.HandleFunc("/about.json", h.About).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.auth.RequireAuth)
	api.Use(mw...)
	api.HandleFunc("/pollers", h.ListPollers).Methods(http.MethodGet)
	api.HandleFunc("/pollers/{provider}/start", h.StartPoller).Methods(http.MethodPost)
	api.HandleFunc("/pollers/{provider}/stop", h.StopPoller).Methods(http.MethodPost)
	api.HandleFunc("/events/{id}", h.GetEvent).Methods(http.MethodGet)
	h.registerSubscriptionRoutes(api)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
