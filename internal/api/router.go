// Package api wires the HTTP surface of the gateway: routing, middleware
// order, and CORS.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/api/middleware"
	"github.com/RohitAchyutuni/PlanGenie/internal/handlers"
	"github.com/RohitAchyutuni/PlanGenie/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, cache *store.RedisCache, whitelist []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // messages are text, not uploads
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(cache.Client(), logger, whitelist)
	r.Use(limiter.Middleware)

	// CORS - the chat UI runs on its own origin during development
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Plan-Schema"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	r.Route("/threads", func(r chi.Router) {
		r.Get("/", h.ListThreads)
		r.Post("/", h.CreateThread)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetThread)
			r.Delete("/", h.DeleteThread)
			r.Put("/title", h.RenameThread)
			r.Post("/duplicate", h.DuplicateThread)
			r.Post("/archive", h.ArchiveThread)
			r.Get("/plan", h.GetPlan)
			r.Post("/messages", h.SendMessage)
			r.Post("/stop", h.StopStream)
		})
	})

	return r
}
