package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes wires the REST API, the WebSocket endpoint and the health
// check onto the router. wsHandler may be nil when push is disabled.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.HandlerFunc) {
	r.Get("/health", h.Health)

	if wsHandler != nil {
		r.Get("/ws", wsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/interventions", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Get("/pending", h.GetPending)
			r.Get("/{id}", h.GetDetail)
			r.Post("/{id}/response", h.SubmitResponse)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/{name}/trigger", h.TriggerWorkflow)
		})

		r.Route("/reviewers", func(r chi.Router) {
			r.Put("/{id}", h.UpsertReviewer)
			r.Put("/{id}/active", h.SetReviewerActive)
		})
	})
}
