package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/observability"
	"github.com/namelens/pacer/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	if s.relay != nil {
		requests := &handlers.RequestsHandler{Relay: s.relay}
		s.router.Route("/v1", func(r chi.Router) {
			r.Post("/requests", requests.Submit)
			r.Get("/requests/{id}", requests.Get)
			r.Get("/throttle", requests.Throttle)
		})
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint registers POST /admin/signal when an admin token is
// configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.Logger()

	if s.cfg.AdminToken == "" {
		logger.Debug("Admin signal endpoint disabled (no server.admin_token set)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.cfg.AdminToken,
		RateLimit: 10, // per minute
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("rate_limit", "10/min, burst 5"))
	logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
