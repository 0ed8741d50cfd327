package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
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

	// Prometheus scrape endpoint (no auth required)
	r.Get("/metrics", s.handlePrometheus)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// System snapshot
			r.Get("/system", s.handleSystem)

			// Core broker connection
			r.Get("/mqtt", s.handleBrokerStatus)

			// Program endpoints
			r.Route("/programs", func(r chi.Router) {
				r.Get("/", s.handleListPrograms)
				r.Post("/", s.handleCreateProgram)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetProgram)
					r.Put("/", s.handleUpdateProgram)
					r.Patch("/", s.handleUpdateProgram)
					r.Delete("/", s.handleDeleteProgram)
					r.Post("/compile", s.handleCompileProgram)
					r.Post("/setup", s.handleSetupProgram)
					r.Post("/run", s.handleRunProgram)
					r.Get("/runs", s.handleListProgramRuns)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
//
// The database, broker and InfluxDB are reported individually. Only a
// failing database makes the hub unhealthy; the others degrade it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := map[string]string{}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			components["database"] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			components["database"] = "ok"
		}
	}
	if s.mqtt != nil {
		components["mqtt"] = s.mqtt.State().String()
		if !s.mqtt.IsConnected() && status == "ok" {
			status = "degraded"
		}
	}
	if s.influx != nil {
		if s.influx.IsConnected() {
			components["influxdb"] = "ok"
		} else {
			components["influxdb"] = "disconnected"
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
