/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging (logger.Middleware)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for station front-ends
  5. Body limit: Requests larger than Options.MaxBodySize are rejected

ROUTE GROUPS:
  /api/plans/*      Plans, assessment, payments of a plan
  /api/payments/*   Sign-offs and deletion
  /api/items/*      Line item stages
  /api/batches/*    Shipment batches
  /api/stock/*      Tank stock
  /api/scenarios/*  Demo scenarios
  /healthz          Liveness

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
	"github.com/warp/fuel-procurement/logger"
	"go.uber.org/zap"
)

// Options configures the router.
type Options struct {
	Logger         *zap.Logger
	AllowedOrigins []string
	MaxBodySize    int64
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))
	if opts.MaxBodySize > 0 {
		r.Use(middleware.RequestSize(opts.MaxBodySize))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/rejected", h.ListRejectedPlans)
			r.Get("/{id}", h.GetPlan)
			r.Post("/{id}/approve", h.ApprovePlan)
			r.Post("/{id}/reject", h.RejectPlan)
			r.Post("/{id}/assessment", h.AssessPlan)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.SubmitPayment)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/first-signoff", h.FirstSignoff)
			r.Post("/{id}/second-signoff", h.SecondSignoff)
			r.Delete("/{id}", h.DeletePayment)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/confirmed", h.ListConfirmedItems)
			r.Get("/{id}", h.GetItem)
			r.Post("/{id}/confirm", h.ConfirmItem)
			r.Post("/{id}/deliver", h.DeliverItem)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", h.CreateBatch)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/deliver", h.DeliverBatch)
		})

		r.Route("/stock", func(r chi.Router) {
			r.Get("/products/{id}", h.GetProductStock)
			r.Post("/adjustments", h.AdjustStock)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
