package middleware

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/metrics"
)

// WithRequestLogging logs each request with its method, path, status, and
// duration.
func WithRequestLogging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// LoadShed rejects the given fraction [0,1] of requests up front with 503.
// The fraction comes from configuration at construction; zero disables
// shedding.
func LoadShed(fraction float64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if fraction <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rand.Float64() < fraction {
				http.Error(w, "server overloaded", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithMetrics observes request latency per route and status.
func WithMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			m.RequestDuration.
				WithLabelValues(r.URL.Path, strconv.Itoa(ww.Status())).
				Observe(time.Since(start).Seconds())
		})
	}
}
