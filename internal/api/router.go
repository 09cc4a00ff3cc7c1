package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	// Short control routes, paths from config.
	routes := s.cfg.Routes
	mount := func(path string, h http.HandlerFunc) {
		if path != "" {
			r.Get(path, h)
		}
	}
	mount(routes.Info, s.handleLegacyInfo)
	mount(routes.On, s.handleLegacyOn)
	mount(routes.Off, s.handleLegacyOff)
	mount(routes.Status, s.handleLegacyStatus)
	mount(routes.Ping, s.handleLegacyPing)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/status", s.handleStatus)

		// Every route that exchanges with the server is authenticated.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/serverinfo", s.handleServerInfo)
			r.Post("/connect", s.handleConnect)
			r.Post("/disconnect", s.handleDisconnect)
			r.Post("/clear", s.handleClear)
			r.Post("/color", s.handleColor)
			r.Post("/effect", s.handleEffect)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns 200 while the process is serving, with the
// Hyperion connection state for load balancers that care.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"connected": s.hyperion.IsConnected(),
	})
}
