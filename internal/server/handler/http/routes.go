package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/metrics"
	"github.com/ndanilin/vaultgraph/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig bundles the dependencies of the router.
type RouterConfig struct {
	Auth    *AuthHandler
	Secrets *SecretsHandler
	Groups  *GroupsHandler
	Txn     *TxnHandler
	Audit   *AuditHandler

	JWTSecret      string
	IdentityLoader middleware.IdentityLoader
	RejectFraction float64
	Metrics        *metrics.Metrics
	Registry       *prometheus.Registry
	Logger         *zap.Logger
}

// NewRouter constructs the HTTP handler serving the vault API.
//
// Middleware chain (applied in order):
//  1. LoadShed(fraction)                 — emergency load shedding
//  2. AllowContentType("application/json") on API routes
//  3. WithRequestLogging(logger)         — logs incoming requests
//  4. WithMetrics(metrics)               — latency histograms
//  5. JWTAuth                            — bearer-token authentication
//     (register and login excluded)
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.LoadShed(cfg.RejectFraction))
	r.Use(middleware.WithRequestLogging(cfg.Logger))
	r.Use(middleware.WithMetrics(cfg.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json", ""))
		r.Use(middleware.JWTAuth(cfg.JWTSecret, cfg.IdentityLoader))

		// Public endpoints
		r.Post("/register", cfg.Auth.Register)
		r.Post("/login", cfg.Auth.Login)

		// Protected group: requires a valid bearer token
		r.Group(func(r chi.Router) {
			r.Post("/verify", cfg.Auth.Verify)

			r.Post("/secrets", cfg.Secrets.Create)
			r.Get("/secrets/{secretID}", cfg.Secrets.Read)
			r.Put("/secrets/{secretID}", cfg.Secrets.Edit)
			r.Post("/secrets/{secretID}/share", cfg.Secrets.Share)
			r.Delete("/secrets/{secretID}", cfg.Secrets.Remove)

			r.Post("/groups", cfg.Groups.Create)
			r.Put("/groups/{groupID}/members", cfg.Groups.EditMembership)
			r.Get("/groups/{groupID}/sync", cfg.Secrets.Sync)

			r.Post("/txn", cfg.Txn.Begin)
			r.Post("/txn/commit", cfg.Txn.Commit)
			r.Post("/txn/rollback", cfg.Txn.Rollback)

			r.Get("/audit", cfg.Audit.Events)
		})
	})

	return r
}
