package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/gate-attendance/internal/web/handlers"
	"github.com/kozaktomas/gate-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	matchHandler := handlers.NewMatchHandler(s.services.Matcher, s.services.Settings, s.log)
	attendanceHandler := handlers.NewAttendanceHandler(s.services.Recorder, s.log)
	gateHandler := handlers.NewGateHandler(s.services.Gate)

	// Health check and metrics (no auth required)
	s.router.Get("/health", handlers.HealthCheck)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	if s.services.Metrics != nil {
		s.router.Method("GET", "/metrics", s.services.Metrics)
	}

	// Camera and gate controller clients authenticate with the API key
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(s.config.Web.APIKey))

		// Matching
		r.Post("/match", matchHandler.Match)
		r.Post("/cache/refresh", matchHandler.Refresh)
		r.Get("/cache/stats", matchHandler.Stats)

		// Attendance
		r.Post("/attendance/record", attendanceHandler.Record)
		r.Get("/attendance/today/arrivals", attendanceHandler.TodayArrivals)
		r.Get("/attendance/today/departures", attendanceHandler.TodayDepartures)

		// Gate controller polling
		r.Get("/gate/queue", gateHandler.Pending)
		r.Get("/gate/queue/drain", gateHandler.Drain)
	})
}
