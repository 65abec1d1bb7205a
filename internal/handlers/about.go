package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"area-engine/internal/services"
)

type aboutItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type aboutService struct {
	Name      string      `json:"name"`
	Actions   []aboutItem `json:"actions"`
	Reactions []aboutItem `json:"reactions"`
}

type aboutResponse struct {
	Client struct {
		Host string `json:"host"`
	} `json:"client"`
	Server struct {
		CurrentTime int64          `json:"current_time"`
		Services    []aboutService `json:"services"`
	} `json:"server"`
}

// About lists the registered services with their actions and reactions.
func (h *Handlers) About(w http.ResponseWriter, r *http.Request) {
	var resp aboutResponse
	resp.Client.Host = clientHost(r)
	resp.Server.CurrentTime = time.Now().Unix()
	resp.Server.Services = lo.Map(h.registry.List(), func(d *services.Descriptor, _ int) aboutService {
		return aboutService{
			Name: d.ID,
			Actions: lo.Map(d.Actions, func(a services.ActionDescriptor, _ int) aboutItem {
				return aboutItem{Name: a.ID, Description: a.Description}
			}),
			Reactions: lo.Map(d.Reactions, func(a services.ReactionDescriptor, _ int) aboutItem {
				return aboutItem{Name: a.ID, Description: a.Description}
			}),
		}
	})

	writeJSON(w, http.StatusOK, resp)
}

func clientHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
