package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rkm/sarwatch/internal/observability"
)

// NewRouter creates and configures the HTTP router with all routes and
// middleware. A nil metrics collector disables /metrics and request metrics.
func NewRouter(h *Handlers, metrics *observability.Collector, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDResponse)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(Recovery(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Compress(5, "application/json", "application/geo+json"))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		ExposedHeaders:   []string{"Link", RequestIDHeader, "X-Run-ID", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Get("/", h.LandingPage)
	r.Get("/conformance", h.Conformance)
	r.Get("/queryables", h.Queryables)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.Products)
		r.Get("/{productId}", h.Product)
		r.Get("/{productId}/detections", h.Detections)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "endpoint not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	})

	return r
}
