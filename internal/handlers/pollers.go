package handlers

import (
	stderrors "errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"area-engine/internal/common/logging"
	"area-engine/internal/poller"
)

func (h *Handlers) ListPollers(w http.ResponseWriter, r *http.Request) {
	statuses := make([]poller.Status, 0, len(h.pollers))
	for _, p := range h.pollers {
		statuses = append(statuses, p.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Provider < statuses[j].Provider })

	writeJSON(w, http.StatusOK, map[string]interface{}{"pollers": statuses})
}

func (h *Handlers) StartPoller(w http.ResponseWriter, r *http.Request) {
	p, ok := h.poller(w, r)
	if !ok {
		return
	}

	if err := p.Start(h.baseCtx); err != nil {
		if stderrors.Is(err, poller.ErrPollerAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("Failed to start poller", err, logging.String("provider", p.Provider()))
		writeError(w, http.StatusInternalServerError, "Failed to start poller")
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (h *Handlers) StopPoller(w http.ResponseWriter, r *http.Request) {
	p, ok := h.poller(w, r)
	if !ok {
		return
	}

	if err := p.Stop(r.Context()); err != nil {
		if stderrors.Is(err, poller.ErrPollerNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("Failed to stop poller", err, logging.String("provider", p.Provider()))
		writeError(w, http.StatusInternalServerError, "Failed to stop poller")
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (h *Handlers) poller(w http.ResponseWriter, r *http.Request) (Poller, bool) {
	provider := mux.Vars(r)["provider"]
	p, ok := h.pollers[provider]
	if !ok {
		writeError(w, http.StatusNotFound, "No poller for provider "+provider)
		return nil, false
	}
	return p, true
}
