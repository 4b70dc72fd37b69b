package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/config"
	apperrors "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/observability"
	"github.com/namelens/pacer/internal/relay"
	"github.com/namelens/pacer/internal/server/handlers"
	servermw "github.com/namelens/pacer/internal/server/middleware"
)

// Server is the relay's HTTP front end.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
	relay  *relay.Relay
	health *handlers.HealthManager
}

// New creates a new HTTP server instance. A nil health manager gets an
// empty one; a nil relay leaves the /v1 routes unregistered.
func New(cfg config.ServerConfig, rl *relay.Relay, health *handlers.HealthManager) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	if health == nil {
		health = handlers.NewHealthManager(handlers.BuildVersion())
	}

	s := &Server{
		router: r,
		cfg:    cfg,
		relay:  rl,
		health: health,
	}

	s.registerRoutes()

	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.Addr()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	observability.Logger().Info("Starting HTTP server",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	observability.Logger().Info("Shutting down HTTP server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.cfg.Port
}
