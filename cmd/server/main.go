// Package main initializes and starts the vault server, setting up
// configuration, logging, the database, the transaction coordinator,
// repositories, the access-control engine, handlers, and HTTP serving.
package main

import (
	"cmp"
	"context"
	"fmt"
	"time"

	nethttp "net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/audit"
	"github.com/ndanilin/vaultgraph/internal/authz"
	"github.com/ndanilin/vaultgraph/internal/config"
	"github.com/ndanilin/vaultgraph/internal/db"
	"github.com/ndanilin/vaultgraph/internal/graph"
	"github.com/ndanilin/vaultgraph/internal/logger"
	"github.com/ndanilin/vaultgraph/internal/metrics"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/ratelimit"
	"github.com/ndanilin/vaultgraph/internal/repository"
	"github.com/ndanilin/vaultgraph/internal/server/handler/http"
	"github.com/ndanilin/vaultgraph/internal/service"
	"github.com/ndanilin/vaultgraph/internal/sharing"
	"github.com/ndanilin/vaultgraph/internal/txn"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const tokenTTL = 12 * time.Hour

func main() {
	// Parse command-line, file, and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Initialize PostgreSQL.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}

	// Metrics registry and collectors.
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Transaction coordinator with its idle sweeper.
	coordinator := txn.NewCoordinator(postgresDB, zapLogger, options.TxnIdleTimeout)
	coordinator.OnTerminated(m.TerminatedTxns.Inc)
	coordinator.StartSweeper(context.Background(), options.TxnSweepInterval)

	// Repositories over the access-control graph and the audit log.
	graphRepo := repository.NewPostgresGraphRepository()
	auditRepo := repository.NewPostgresAuditRepository()

	// The engine: resolver, authorization gate, sharing operations,
	// audit recorder.
	resolver := graph.NewResolver(graphRepo)
	gate := authz.NewGate(resolver, graphRepo)
	sharingSvc := sharing.NewService(graphRepo, resolver, gate)
	recorder := audit.NewRecorder(auditRepo, zapLogger)

	// Redis-backed rate limiter.
	redisClient := redis.NewClient(&redis.Options{
		Addr: options.RedisAddr,
		DB:   options.RedisDB,
	})
	limiter := ratelimit.NewLimiter(redisClient, options.RateLimitPerMinute)

	vault := service.NewVaultService(
		coordinator, graphRepo, resolver, gate, sharingSvc, recorder,
		limiter, m, zapLogger, options.DefaultVerified,
	)

	// Handlers and router.
	authHandler := &http.AuthHandler{
		Auth:      vault,
		JWTSecret: options.JWTSecret,
		TokenTTL:  tokenTTL,
		Log:       zapLogger,
	}
	router := http.NewRouter(http.RouterConfig{
		Auth:    authHandler,
		Secrets: &http.SecretsHandler{Secrets: vault, Log: zapLogger},
		Groups:  &http.GroupsHandler{Groups: vault, Log: zapLogger},
		Txn:     &http.TxnHandler{Txn: vault, Log: zapLogger},
		Audit:   &http.AuditHandler{Audit: vault, Log: zapLogger},

		JWTSecret: options.JWTSecret,
		IdentityLoader: func(ctx context.Context, name string) (*models.Identity, error) {
			return graphRepo.GetIdentityByName(ctx, postgresDB, name)
		},
		RejectFraction: options.RejectFraction,
		Metrics:        m,
		Registry:       registry,
		Logger:         zapLogger,
	})

	server := &nethttp.Server{
		Addr:    options.Addr,
		Handler: router,
	}

	zapLogger.Info("starting server", zap.String("addr", options.Addr))
	if err := server.ListenAndServe(); err != nil {
		zapLogger.Fatal("failed to start server", zap.Error(err))
	}
}
