package handlers

import (
	"net/http"
	"sort"
	"time"
)

// Health runs every registered check. Any failure turns the response into 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	status, code := "healthy", http.StatusOK
	for _, name := range names {
		if err := h.checks[name](); err != nil {
			components[name] = "unhealthy: " + err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		components[name] = "healthy"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}
