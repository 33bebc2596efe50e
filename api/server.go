/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/franchises/*     Franchise configuration
  /api/revenue          Gross revenue entries
  /api/obligations/*    Obligation lifecycle
  /api/billing/*        Monthly sweep and audit log
  /api/scenarios/*      Demo scenarios
  /api/reset            Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the dev frontend origins.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/franchises", func(r chi.Router) {
			r.Get("/", h.ListFranchises)
			r.Post("/", h.SaveFranchise)
			r.Get("/{id}", h.GetFranchise)
			r.Post("/{id}/units", h.AddUnit)
		})

		r.Post("/revenue", h.RecordRevenue)

		r.Route("/obligations", func(r chi.Router) {
			r.Get("/", h.ListObligations)
			r.Post("/", h.CreateObligation)
			r.Get("/{id}", h.GetObligation)
			r.Get("/{id}/series", h.GetSeries)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Post("/{id}/submit", h.SubmitObligation)
			r.Post("/{id}/pay", h.PayObligation)
			r.Post("/{id}/late-fee", h.ApplyLateFee)
			r.Post("/{id}/adjustment", h.AdjustObligation)
			r.Post("/{id}/dispute", h.DisputeObligation)
			r.Post("/{id}/resolve", h.ResolveDispute)
			r.Post("/{id}/cancel", h.CancelObligation)
			r.Post("/{id}/refund", h.RefundObligation)
			r.Post("/{id}/next", h.GenerateNext)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Get("/runs", h.ListSweepRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Franchise Billing</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Franchise Billing API</h1>
<ul>
<li><a href="/api/franchises">/api/franchises</a> - List franchises</li>
<li><a href="/api/obligations">/api/obligations</a> - List obligations</li>
<li><a href="/api/billing/runs">/api/billing/runs</a> - Sweep runs</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
