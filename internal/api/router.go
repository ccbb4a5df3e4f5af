package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-pioneer/internal/auth"
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
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleToken)

		// WebSocket authenticates from the query string.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/receivers", func(r chi.Router) {
				r.With(s.require(auth.PermReceiverRead)).Get("/", s.handleListReceivers)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.require(auth.PermReceiverRead)).Get("/", s.handleGetReceiver)
					r.With(s.require(auth.PermReceiverRead)).Get("/sources", s.handleGetSources)
					r.With(s.require(auth.PermReceiverRead)).Get("/history", s.handleGetHistory)
					r.With(s.require(auth.PermReceiverControl)).Post("/refresh", s.handleRefresh)
					r.With(s.require(auth.PermReceiverControl)).Post("/commands", s.handleCommand)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server and bridge health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.health != nil {
		status, reason := s.health.HealthStatus()
		bridge := map[string]any{"status": status}
		if reason != "" {
			bridge["reason"] = reason
		}
		resp["bridge"] = bridge
	}
	writeJSON(w, http.StatusOK, resp)
}
