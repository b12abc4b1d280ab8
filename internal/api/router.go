package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check in GET /health.
const healthCheckTimeout = 2 * time.Second

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
		r.Get("/health", s.handleHealth)

		// Credential endpoints are rate limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/session", s.handleGetSession)
			r.Get("/dashboard", s.handleGetDashboard)

			// Admin dashboard endpoints
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminDashboard)

				r.Route("/roles", func(r chi.Router) {
					r.Get("/", s.handleListRoles)
					r.Put("/{userID}", s.handlePutRole)
				})
				r.Get("/audit", s.handleListAudit)
			})
		})
	})

	return r
}

// handleHealth returns the server health status and each dependency's.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"sessions":   s.sessions.Count(),
		"ws_clients": s.hub.ClientCount(),
		"components": components,
	})
}
