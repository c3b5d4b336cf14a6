package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router. Reads dominate, so everything except
// the manual cleanup trigger is a GET; unknown paths fall through to chi's
// default 404.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)
	r.Get("/health/ready", h.health.HandleReadiness)
	r.Get("/health/db", h.health.HandleDBStats)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Get("/sessions/{email}", h.GetSessions)
		r.Get("/profiles/{email}", h.GetProfiles)
		r.Get("/rules/school", h.GetSchoolRules)
		r.Post("/cleanup", h.TriggerCleanup)

		r.Route("/tracking", func(r chi.Router) {
			r.Get("/stats", h.GetTrackingStats)
			r.Get("/session/{sessionID}", h.GetSessionTracking)
			r.Get("/teacher/{teacherID}", h.GetTeacherTracking)
		})
	})

	return r
}
