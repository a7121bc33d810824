/**
 * @description
 * This file contains the yield-service's own HTTP middleware: Prometheus
 * request instrumentation and the Redis-backed rate limit applied to the
 * operation initiation endpoints. Standard logging, recovery and timeout
 * middleware come from chi.
 *
 * @dependencies
 * - net/http: Standard Go library.
 * - github.com/go-chi/chi/v5: Route pattern lookup for low-cardinality labels.
 * - internal/app, internal/metrics: Rate limiter contract and counters.
 */

package api

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bridgefarm/yield-service/internal/app"
	"github.com/bridgefarm/yield-service/internal/metrics"
)

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// MetricsMiddleware records request counts and latency per route pattern.
// The chi pattern is used instead of the raw path to keep label cardinality
// bounded.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.RequestLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// RateLimitMiddleware applies a per-client fixed-window budget. The limiter
// fails open: if Redis is down, traffic passes and the failure is logged.
func RateLimitMiddleware(limiter app.RateLimiter, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			subject := clientIP(r)
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, window)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate_limited","message":"Too many requests, slow down."}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
