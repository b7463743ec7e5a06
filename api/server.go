/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Auth:       Actor from bearer token or dev headers (under /api only)

ROUTE GROUPS:
  /api/reservations/*   Booking and negotiation
  /api/capacity         Capacity grid
  /api/guardians/*      Balance and history
  /api/policy           Policy in force (PUT is admin)
  /api/admin/*          Credit adjustments, accounts, audits (admin)
  /api/scenarios/*      Demo data (load is admin)
  /healthz              Liveness, unauthenticated

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticator, RequireAdmin
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the cross-cutting settings of the router.
type RouterConfig struct {
	Auth           Authenticator
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Get("/", h.ListReservations)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/admin-decision", h.AdminDecision)
			r.Post("/{id}/guardian-decision", h.GuardianDecision)
			r.Post("/{id}/cancel", h.CancelReservation)
			r.Post("/{id}/outcome", h.RecordOutcome)
		})

		r.Get("/capacity", h.GetCapacity)

		// Guardian routes
		r.Route("/guardians/{id}", func(r chi.Router) {
			r.Get("/", h.GetGuardian)
			r.Get("/balance", h.GetGuardianBalance)
			r.Get("/transactions", h.GetGuardianTransactions)
		})

		// Policy routes
		r.Get("/policy", h.GetPolicy)
		r.With(RequireAdmin).Put("/policy", h.UpdatePolicy)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/adjustments", h.CreateAdjustment)
			r.Get("/accounts", h.ListAccounts)
			r.Get("/audits", h.ListAudits)
			r.Post("/audits", h.RunAudit)
		})

		// Demo scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.With(RequireAdmin).Post("/load", h.LoadScenario)
		})
	})

	return r
}
