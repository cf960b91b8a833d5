// Package api exposes the pipeline state over HTTP.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/state", h.HandleState)
	r.Get("/analytics", h.HandleAnalytics)

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.HandleListAlerts)
		r.Post("/{id}/resolve", h.HandleResolveAlert)
		r.Post("/{id}/dismiss", h.HandleDismissAlert)
	})

	r.Post("/commands", h.HandleCommand)

	return r
}
