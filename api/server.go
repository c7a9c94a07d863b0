/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for the web frontend

ROUTE GROUPS:
  /api/hpoints/*      Balance and history for the caller
  /api/workouts       Workout submission and listing
  /api/redemptions    Redemption workflow
  /api/products/*     Catalog (read side public, writes under /admin)
  /api/users/*        Member registry
  /api/admin/*        Validation queue, adjustments, fulfillment
  /metrics            Prometheus scrape endpoint
  /healthz            Liveness probe

SECURITY NOTE:
  Identity comes from X-User-ID / X-Admin-ID headers injected by the
  gateway in front of this service. There is no session handling here.

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID", "X-Admin-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Points routes
		r.Route("/hpoints", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/history", h.GetHistory)
		})

		// Workout routes
		r.Route("/workouts", func(r chi.Router) {
			r.Post("/", h.SubmitWorkout)
			r.Get("/", h.ListWorkouts)
		})

		// Redemption routes
		r.Route("/redemptions", func(r chi.Router) {
			r.Post("/", h.Redeem)
			r.Get("/", h.ListRedemptions)
		})

		// Product catalog
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/{id}", h.GetProduct)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Route("/validation", func(r chi.Router) {
				r.Get("/queue", h.ValidationQueue)
				r.Post("/{id}/approve", h.ApproveWorkout)
				r.Post("/{id}/reject", h.RejectWorkout)
			})

			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/credits", h.CreateCredit)

			r.Route("/redemptions", func(r chi.Router) {
				r.Post("/{id}/fulfill", h.FulfillRedemption)
				r.Post("/{id}/cancel", h.CancelRedemption)
			})

			r.Route("/products", func(r chi.Router) {
				r.Post("/", h.CreateProduct)
				r.Put("/{id}", h.UpdateProduct)
				r.Delete("/{id}", h.DeleteProduct)
			})
		})
	})

	// Operational endpoints
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
