/**
 * @description
 * This file sets up the HTTP router for the yield-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * the middleware chain: request ids, logging, panic recovery, timeouts, CORS,
 * Prometheus instrumentation and the initiation rate limit.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: Cross-origin policy for the browser UI.
 * - internal/app, internal/metrics: Rate limiter contract and metrics handler.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bridgefarm/yield-service/internal/app"
	"github.com/bridgefarm/yield-service/internal/metrics"
)

// Routes creates and returns the router for the yield service.
func Routes(h *Handlers, ws *WSHandler, limiter app.RateLimiter, initiateLimitPerMinute int) http.Handler {
	r := chi.NewRouter()

	// Standard middleware for request ids, logging, panic recovery, timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	r.Use(MetricsMiddleware)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Handle("/metrics", metrics.Handler())

	// Real-time channel
	r.Get("/ws", ws.ServeHTTP)

	// Operation initiation endpoints share one rate-limit budget per client.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, "initiate", initiateLimitPerMinute, time.Minute))

		r.Post("/deposit", h.DepositHandler)
		r.Post("/withdraw", h.WithdrawHandler)
		r.Post("/compound", h.CompoundHandler)
		r.Post("/transactions/retry", h.RetryHandler)
	})

	r.Post("/estimate", h.EstimateHandler)
	r.Get("/transactions", h.ListTransactionsHandler)
	r.Get("/transactions/lookup", h.GetTransactionHandler)
	r.Post("/transactions/cancel", h.CancelHandler)
	r.Put("/wallet/auto-compound", h.AutoCompoundHandler)

	return r
}
