package api

import (
	"maps"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tep-core/internal/initializer"
	"github.com/nerrad567/tep-core/internal/registry"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Running   bool   `json:"running"`
	Connected bool   `json:"connected"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Component string   `json:"component"`
	Version   string   `json:"version"`
	Startup   string   `json:"startup_state"`
	Ready     bool     `json:"ready"`
	Topics    []string `json:"topics"`
	Peers     int      `json:"peers"`
}

// handleHealth answers 200 while the component runs with a connected
// bus, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Running:   s.component.Running(),
		Connected: s.component.Connected(),
	}
	status := http.StatusOK
	if !resp.Running || !resp.Connected {
		resp.Status = CodeUnavailable
		status = http.StatusServiceUnavailable
	}
	respond(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := s.component.StartupState()
	topics := s.component.Topics()
	if topics == nil {
		topics = []string{}
	}
	respond(w, http.StatusOK, StatusResponse{
		Component: s.component.Name(),
		Version:   s.component.Version(),
		Startup:   state.String(),
		Ready:     state == initializer.BackgroundTasksRunning,
		Topics:    topics,
		Peers:     len(s.peers.Snapshot()),
	})
}

// handleListPeers returns the peer cache ordered by component name.
func (s *Server) handleListPeers(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"peers": sortedPeers(s.peers.Snapshot()),
	})
}

func (s *Server) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	entry, ok := s.peers.Get(name)
	if !ok {
		fail(w, http.StatusNotFound, CodeNotFound, "unknown component %s", name)
		return
	}
	respond(w, http.StatusOK, entry)
}

func sortedPeers(snapshot map[string]registry.Entry) []registry.Entry {
	names := slices.Sorted(maps.Keys(snapshot))
	peers := make([]registry.Entry, 0, len(names))
	for _, name := range names {
		peers = append(peers, snapshot[name])
	}
	return peers
}
