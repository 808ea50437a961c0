/**
 * @description
 * This file sets up the HTTP router for the conversation-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware: webhook signature verification on the message ingress,
 * JWT auth plus CORS on the admin surface, and Prometheus metrics exposure.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the admin surface.
 * - github.com/prometheus/client_golang/prometheus/promhttp: /metrics handler.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the security settings the routes depend on.
type RouterConfig struct {
	WebhookSigningSecret string
	AdminJWKSURL         string
}

// EngineRoutes creates and returns the router for the conversation service.
func EngineRoutes(h *EngineHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Message ingress from the channel collaborator, signature-verified.
	r.Group(func(r chi.Router) {
		r.Use(WebhookSignatureMiddleware(cfg.WebhookSigningSecret))
		r.Post("/engine/messages", h.InboundMessageHandler)
	})

	// Read-only admin surface.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"https://*", "http://localhost:*"},
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(AdminAuthMiddleware(cfg.AdminJWKSURL))

		r.Get("/admin/sessions/counts", h.SessionCountsHandler)
		r.Get("/admin/ledger/counts", h.LedgerCountsHandler)
	})

	return r
}
