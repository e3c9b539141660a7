// Package api wires the HTTP surface: routing entry points, the
// administration endpoints for providers, strategies, and policies, and the
// observability views.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/modelrelay/modelrelay/internal/api/handlers"
	"github.com/modelrelay/modelrelay/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Org-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.GetVersion)
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Routing entry points
		r.Post("/route", h.Route)
		r.Post("/route/stream", h.RouteStream)

		// Observability
		r.Get("/status", h.GetStatus)
		r.Get("/breakers", h.GetBreakers)

		// Provider catalog. No DELETE: providers are disabled, never
		// removed, so attempt trails stay resolvable.
		r.Route("/providers", func(r chi.Router) {
			r.Get("/", h.ListProviders)
			r.Post("/", h.RegisterProvider)
			r.Route("/{providerID}", func(r chi.Router) {
				r.Get("/", h.GetProvider)
				r.Patch("/", h.UpdateProvider)
				r.Post("/test", h.TestProvider)
			})
		})

		// Fallback strategies
		r.Route("/strategies", func(r chi.Router) {
			r.Get("/", h.ListStrategies)
			r.Post("/", h.CreateStrategy)
			r.Route("/{strategyID}", func(r chi.Router) {
				r.Get("/", h.GetStrategy)
				r.Put("/", h.UpdateStrategy)
			})
		})

		// Organization policies
		r.Route("/policies", func(r chi.Router) {
			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/", h.GetPolicy)
				r.Put("/", h.PutPolicy)
			})
		})
	})

	return r
}
