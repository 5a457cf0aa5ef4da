package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the dispatch routes. metricsHandler may be nil.
func NewRouter(h *DispatchHandler, metricsHandler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	r.Post("/messages", h.Submit)
	r.Get("/messages/{id}", h.Status)
	r.Get("/breakers", h.Breakers)
	r.Get("/stats", h.Stats)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if metricsHandler != nil {
		r.Get("/metrics", metricsHandler)
	}

	return r
}
