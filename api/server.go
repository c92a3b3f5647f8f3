/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Instrument: Prometheus request duration histogram

ROUTE GROUPS:
  /api/invoices/*         Invoice generation and lifecycle
  /api/credit-invoices/*  Credit invoice confirmation
  /api/students/*         Student ledger and corrections
  /api/ledger-entries/*   Entry application and reversal
  /api/runs               Batch runs and history
  /api/pricing            Price version management
  /api/demo/*             Demo dataset (dev only)
  /metrics                Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
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
	r.Use(Instrument)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/generate", h.GenerateInvoice)
			r.Post("/generate-batch", h.GenerateBatch)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/send", h.SendInvoice)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/recalculate", h.RecalculateInvoice)
			r.Post("/{id}/credit", h.CreateCreditInvoice)
			r.Post("/{id}/apply-credit", h.ApplyCreditBalance)
		})

		// Credit invoice routes
		r.Route("/credit-invoices", func(r chi.Router) {
			r.Post("/{id}/confirm", h.ConfirmCreditInvoice)
		})

		// Student ledger routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/{id}/ledger", h.GetStudentLedger)
			r.Post("/{id}/corrections", h.CreateCorrection)
		})

		// Ledger entry routes
		r.Route("/ledger-entries", func(r chi.Router) {
			r.Post("/{id}/apply", h.ApplyLedgerEntry)
			r.Post("/{id}/reverse", h.ReverseLedgerEntry)
		})

		// Batch run routes
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.GenerateBatch)
		})

		// Pricing routes
		r.Post("/pricing", h.CreatePricingVersion)
		r.Get("/course-types/{id}/pricing", h.ListPricingVersions)

		// Demo routes
		r.Post("/demo/seed", h.SeedDemo)
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
