/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the portal frontend
  5. Latency:    Prometheus request duration histogram per route

ROUTE GROUPS:
  /api/connections/*    Readings and bill history
  /api/bills/*          Bill detail and payment callbacks
  /api/estimate         What-if quotes
  /api/admin/*          Tariff, connection, and job administration
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridworks/billing-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(latency)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Reading and bill history routes
		r.Route("/connections", func(r chi.Router) {
			r.Post("/{id}/readings", h.SubmitReading)
			r.Get("/{id}/bills", h.ListBills)
		})

		// Bill routes
		r.Route("/bills", func(r chi.Router) {
			r.Get("/{id}", h.GetBill)
			r.Post("/{id}/payment", h.ConfirmPayment)
		})

		// Estimate route
		r.Post("/estimate", h.Estimate)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/connections", h.CreateConnection)
			r.Get("/connections", h.ListConnections)
			r.Post("/generate", h.TriggerGenerate)
			r.Post("/tariffs", h.CreateSlab)
			r.Delete("/tariffs/{id}", h.DeactivateSlab)
			r.Get("/jobs", h.ListJobs)
			r.Get("/jobs/{id}", h.GetJob)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Healthz)

	return r
}

// latency records per-route request duration. The route label is the chi
// pattern ("/api/bills/{id}"), not the raw path, to keep cardinality bounded.
func latency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPDuration.
			WithLabelValues(route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
