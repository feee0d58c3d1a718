package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pollcast/pollcast/internal/appid"
	"github.com/pollcast/pollcast/internal/core/dispatch"
	"github.com/pollcast/pollcast/internal/core/token"
	"github.com/pollcast/pollcast/internal/observability"
	"github.com/pollcast/pollcast/internal/server/handlers"
	servermw "github.com/pollcast/pollcast/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes(verifier *token.Verifier, dispatcher *dispatch.Dispatcher) {
	// Standard health endpoints
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	// Extension endpoints. Everything under /poll and /settings carries
	// a viewer or broadcaster token; role checks happen in the
	// dispatcher, not here.
	pollHandlers := handlers.NewPollHandlers(dispatcher)
	settingsHandlers := handlers.NewSettingsHandlers(dispatcher)

	s.router.Group(func(r chi.Router) {
		r.Use(servermw.Authenticate(verifier))

		r.Route("/poll", func(r chi.Router) {
			r.Get("/query", pollHandlers.Query)
			r.Post("/create", pollHandlers.Create)
			r.Post("/reset", pollHandlers.Reset)
			r.Post("/response", pollHandlers.Respond)
			r.Get("/results", pollHandlers.Results)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/query", settingsHandlers.Query)
			r.Post("/update", settingsHandlers.Update)
		})
	})

	// Admin signal endpoint (optional, requires POLLCAST_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	// Get admin token from environment (identity-aware)
	ctx := context.Background()
	identity, _ := appid.Get(ctx)
	envPrefix := "POLLCAST_"
	if identity != nil && identity.EnvPrefix != "" {
		envPrefix = identity.EnvPrefix
	}

	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		}
		return
	}

	// Create HTTP signal handler with bearer token auth and rate limiting
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	// Register admin endpoint
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
