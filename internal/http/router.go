package http

import (
	"github.com/examwatch/proctor/internal/http/handlers"
	"github.com/examwatch/proctor/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterOptions configures the collector router.
type RouterOptions struct {
	// BasePath mounts the API under a prefix, e.g. "/api". Empty mounts at root.
	BasePath string
	// StartLimiter throttles POST /start-attempt per network identity. Nil disables it.
	StartLimiter *middleware.RateLimiter
	// AllowedOrigins feeds the CORS middleware. Empty disables CORS headers.
	AllowedOrigins []string
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(attemptHandler *handlers.AttemptHandler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	api := chi.NewRouter()
	api.Group(func(r chi.Router) {
		if opts.StartLimiter != nil {
			r.Use(middleware.RateLimitMiddleware(opts.StartLimiter, middleware.GetIPKey))
		}
		r.Post("/start-attempt", attemptHandler.HandleStartAttempt)
	})
	api.Get("/check-ip/{"+handlers.AttemptIDParam+"}", attemptHandler.HandleCheckIP)
	api.Post("/log-events/{"+handlers.AttemptIDParam+"}", attemptHandler.HandleLogEvents)
	api.Get("/attempt/{"+handlers.AttemptIDParam+"}", attemptHandler.HandleGetAttempt)

	basePath := opts.BasePath
	if basePath == "" || basePath == "/" {
		r.Mount("/", api)
	} else {
		r.Mount(basePath, api)
	}

	return r
}
