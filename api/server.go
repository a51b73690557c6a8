/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zap request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request count and latency
  6. CORS:       Cross-origin requests for the web client

ROUTE GROUPS:
  /api/auth/*           Signup and login (rate limited per client)
  /api/medications/*    Bearer token required
  /api/caretaker/*      Bearer token + caretaker role
  /healthz              Liveness and database check
  /metrics              Prometheus exposition

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/medication-tracker/adherence"
	"github.com/warp/medication-tracker/auth"
)

// RouterOptions tunes the outer surface.
type RouterOptions struct {
	AllowedOrigins []string
	// LoginRate and LoginBurst bound /api/auth per client address.
	// Zero disables limiting.
	LoginRate  float64
	LoginBurst int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Method("GET", "/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			if opts.LoginRate > 0 && opts.LoginBurst > 0 {
				r.Use(RateLimit(opts.LoginRate, opts.LoginBurst))
			}
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
		})

		// Medication routes
		r.Route("/medications", func(r chi.Router) {
			r.Use(h.Auth.Middleware)
			r.With(auth.RequireRole(adherence.RolePatient)).Get("/", h.ListMedications)
			r.With(auth.RequireRole(adherence.RolePatient)).Post("/", h.CreateMedication)
			r.Put("/{id}", h.UpdateMedication)
			r.Delete("/{id}", h.DeleteMedication)
			r.Patch("/{id}/mark-taken", h.MarkTaken)
			r.Get("/{id}/adherence", h.GetAdherence)
			r.Get("/{id}/history", h.GetHistory)
		})

		// Caretaker routes
		r.Route("/caretaker", func(r chi.Router) {
			r.Use(h.Auth.Middleware)
			r.Use(auth.RequireRole(adherence.RoleCaretaker))
			r.Get("/patients", h.ListPatients)
			r.Get("/medications/{user_id}", h.ListPatientMedications)
		})
	})

	return r
}
