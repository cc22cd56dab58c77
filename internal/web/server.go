package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/gate-attendance/internal/config"
	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/kozaktomas/gate-attendance/internal/web/handlers"
	"github.com/kozaktomas/gate-attendance/internal/web/middleware"
)

// Services are the components exposed over HTTP.
type Services struct {
	Matcher  handlers.Matcher
	Recorder handlers.Recorder
	Gate     handlers.GateQueue
	Settings handlers.SettingsCache // cached gate configuration, optional
	Metrics  http.Handler           // Prometheus scrape handler, optional
}

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	services   Services
	log        *logger.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, port int, host string, services Services, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		services: services,
		log:      log.With("component", "web"),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
