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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Device link (device-facing, identified by serial, no JWT —
		// embedded units carry no user credentials)
		r.Route("/device-link", func(r chi.Router) {
			r.Post("/poll", s.handleDevicePoll)
			r.Post("/ack", s.handleDeviceAck)
		})

		// Owner-facing routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Boat endpoints
			r.Route("/boats", func(r chi.Router) {
				r.Get("/", s.handleListBoats)
				r.Post("/", s.handleCreateBoat)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetBoat)
					r.Patch("/", s.handleRenameBoat)
					r.Delete("/", s.handleDeleteBoat)
					r.Get("/devices", s.handleListBoatDevices)
				})
			})

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Post("/", s.handleRegisterDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Put("/boat", s.handleAssignDevice)
					r.Get("/channels", s.handleListChannels)
					r.Patch("/channels/{ch}", s.handleRenameChannel)
					r.Get("/commands", s.handleListDeviceCommands)
				})
			})

			// Command submission
			r.Post("/commands", s.handleSubmitCommand)
		})

		// WebSocket — browsers cannot set Authorization headers on
		// upgrade requests, so the token rides a query parameter and is
		// validated in the handler.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
