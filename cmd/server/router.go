package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/metrics"
)

// newRouter wires the routes behind recovery -> cors -> auth -> logging.
func newRouter(a *genaiti.Assistant, cfg genaiti.ServerConfig, m *metrics.Collector, logger *zap.Logger) http.Handler {
	h := newHandler(a, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(recoveryMiddleware(logger))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(authMiddleware(cfg.APIKey))
	r.Use(logMiddleware(logger, m))

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Post("/ask", h.handleAsk)
	r.Get("/schema", h.handleSchema)
	r.Get("/related", h.handleRelated)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Get("/", h.handleListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleDeleteSession)
			r.Put("/settings", h.handleUpdateSettings)
			r.Post("/ask", h.handleSessionAsk)
			r.Get("/transcript", h.handleTranscript)
			r.Get("/history", h.handleHistory)
		})
	})
	return r
}
