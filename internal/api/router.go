package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"safereport/internal/api/handlers"
	apimiddleware "safereport/internal/api/middleware"
	"safereport/internal/config"
	"safereport/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	limiter  apimiddleware.Limiter
	media    http.Handler
	logger   *logger.Logger
}

// NewRouter creates a new Router instance. limiter and media may be nil.
func NewRouter(cfg config.Config, h *handlers.Handlers, limiter apimiddleware.Limiter, media http.Handler, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		limiter:  limiter,
		media:    media,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(r.requestTimeout()))

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)

		if r.media != nil {
			pub.Handle("/media/*", http.StripPrefix("/media/", r.media))
		}
	})

	router.Route("/api/v1/reports", func(reports chi.Router) {
		// Anonymous submission, rate limited per client
		reports.Group(func(anon chi.Router) {
			if r.config.RateLimit.Enabled && r.limiter != nil {
				anon.Use(apimiddleware.RateLimiter(r.limiter, r.config.RateLimit, r.logger))
			}
			anon.Post("/", r.handlers.Reports.Submit)
		})

		// Authority triage
		reports.Group(func(auth chi.Router) {
			auth.Use(apimiddleware.AuthorityAuth(r.config.JWT))
			auth.Get("/", r.handlers.Reports.List)
			auth.Get("/{id}", r.handlers.Reports.Get)
			auth.Patch("/{id}/status", r.handlers.Reports.SetStatus)
		})
	})

	return router
}

// requestTimeout leaves room for every upload attempt and backoff
func (r *Router) requestTimeout() time.Duration {
	if r.config.Server.WriteTimeout > 0 {
		return r.config.Server.WriteTimeout
	}
	return 120 * time.Second
}
