package router

import (
	"net/http"

	"shopsync/internal/handler"
	"shopsync/internal/middleware"
	"shopsync/pkg/apierror"
	"shopsync/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler      *handler.Handler
	ShopHandler  *handler.ShopHandler
	AdminHandler *handler.AdminHandler
	AdminKey     string
	CORSOrigins  []string

	// Gatherer serves /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", middleware.AdminKeyHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
			r.Get("/players", cfg.Handler.Players)
		}

		if cfg.ShopHandler != nil {
			r.Get("/shops", cfg.ShopHandler.ListShops)
			r.Get("/shops/{shop_id}", cfg.ShopHandler.GetShop)
			r.Get("/market/listings", cfg.ShopHandler.ListListings)
		}

		// Admin endpoints
		if cfg.AdminHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(middleware.NewAdminAuth(cfg.AdminKey))
				r.Route("/admin", func(r chi.Router) {
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Post("/flush", cfg.AdminHandler.Flush)
					r.Post("/resync", cfg.AdminHandler.Resync)
					r.Post("/process", cfg.AdminHandler.Process)
					if cfg.Handler != nil {
						r.Put("/players/{name}", cfg.Handler.Join)
						r.Delete("/players/{name}", cfg.Handler.Leave)
					}
				})
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, apierror.NotFound(""))
	})

	return r
}
