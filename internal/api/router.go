package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tep-core/internal/metrics"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID, s.logRequests, s.recoverPanics)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/peers", func(r chi.Router) {
		r.Get("/", s.handleListPeers)
		r.Get("/{name}", s.handleGetPeer)
	})

	if s.metrics != nil {
		r.Handle("/metrics", metrics.Handler(s.metrics))
	}

	r.Get("/ws/peers", s.handleWebSocket)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusNotFound, CodeNotFound, "no such endpoint %s", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "%s not allowed on %s", r.Method, r.URL.Path)
	})

	return r
}
