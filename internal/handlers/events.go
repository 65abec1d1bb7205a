package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"area-engine/internal/auth"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
)

const roleAdmin = "admin"

type eventResponse struct {
	Event     *models.Event            `json:"event"`
	Reactions []*models.ReactionRecord `json:"reactions"`
}

// GetEvent returns an event with its reaction records. Users only see their
// own events; admins see all of them.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	claims, _ := auth.ClaimsFrom(r.Context())

	event, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			writeError(w, http.StatusNotFound, "Event not found")
			return
		}
		h.logger.Error("Failed to get event", err, logging.String("event_id", id))
		writeError(w, http.StatusInternalServerError, "Failed to get event")
		return
	}
	if claims == nil || (claims.Role != roleAdmin && claims.UserID != event.UserID) {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}

	records, err := h.events.ListReactionRecords(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list reaction records", err, logging.String("event_id", id))
		writeError(w, http.StatusInternalServerError, "Failed to get event")
		return
	}
	if records == nil {
		records = []*models.ReactionRecord{}
	}

	writeJSON(w, http.StatusOK, eventResponse{Event: event, Reactions: records})
}
