// Package service orchestrates vault operations end to end: every call
// consults the rate limiter, runs inside one transaction (explicit when the
// request carries a token, otherwise implicit), passes the authorization
// gate, applies the sharing operations, and records an audit event — all or
// nothing.
package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/audit"
	"github.com/ndanilin/vaultgraph/internal/authz"
	"github.com/ndanilin/vaultgraph/internal/graph"
	"github.com/ndanilin/vaultgraph/internal/metrics"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
	"github.com/ndanilin/vaultgraph/internal/sharing"
	"github.com/ndanilin/vaultgraph/internal/txn"
)

// Store is the full persistence surface the vault service needs.
// *repository.PostgresGraphRepository satisfies it.
type Store interface {
	sharing.Store

	CreateIdentity(ctx context.Context, q repository.Querier, ident models.Identity) (int64, error)
	GetIdentity(ctx context.Context, q repository.Querier, id int64) (*models.Identity, error)
	GetIdentityByName(ctx context.Context, q repository.Querier, name string) (*models.Identity, error)
	SetIdentityVerified(ctx context.Context, q repository.Querier, id int64, verified bool) error
	CreateGroup(ctx context.Context, q repository.Querier, group models.Group) (int64, error)
}

// RateLimiter is the throttling collaborator consulted before any
// authorization work. bulkSync marks the trusted group-sync class.
type RateLimiter interface {
	IsPermitted(ctx context.Context, key string, bulkSync bool) bool
}

// RequestMeta carries the per-request context every operation needs:
// the authenticated actor, audit source fields, and the explicit
// transaction token, if any.
type RequestMeta struct {
	Actor    *models.Identity
	SourceIP string
	DeviceID string
	TxnToken string
}

// VaultService is the composition root of the engine's components.
type VaultService struct {
	coord    *txn.Coordinator
	store    Store
	resolver *graph.Resolver
	gate     *authz.Gate
	sharing  *sharing.Service
	audit    *audit.Recorder
	limiter  RateLimiter
	metrics  *metrics.Metrics
	log      *zap.Logger

	// defaultVerified marks new identities verified at creation; plain
	// configuration, set once at construction.
	defaultVerified bool
}

// NewVaultService wires the engine together.
func NewVaultService(
	coord *txn.Coordinator,
	store Store,
	resolver *graph.Resolver,
	gate *authz.Gate,
	shr *sharing.Service,
	rec *audit.Recorder,
	limiter RateLimiter,
	m *metrics.Metrics,
	log *zap.Logger,
	defaultVerified bool,
) *VaultService {
	return &VaultService{
		coord:           coord,
		store:           store,
		resolver:        resolver,
		gate:            gate,
		sharing:         shr,
		audit:           rec,
		limiter:         limiter,
		metrics:         m,
		log:             log,
		defaultVerified: defaultVerified,
	}
}

// implicitRetries bounds replays of implicit operations on retryable
// conflicts. Explicit transactions surface the conflict to the caller
// instead, who must replay the whole sequence.
const implicitRetries = 3

// run executes fn inside the request's transaction. With an explicit token
// the transaction stays open afterwards; without one the operation is
// atomic within this call and replayed in full on serialization conflicts.
func (s *VaultService) run(ctx context.Context, meta RequestMeta, fn func(q repository.Querier) error) error {
	if meta.TxnToken != "" {
		return s.coord.With(ctx, meta.TxnToken, meta.Actor.ID, func(tx *sql.Tx) error {
			return fn(tx)
		})
	}
	return txn.Retry(ctx, implicitRetries, func() error {
		return s.coord.RunImplicit(ctx, func(tx *sql.Tx) error {
			return fn(tx)
		})
	})
}

// admit applies the rate limiter for the operation class.
func (s *VaultService) admit(ctx context.Context, meta RequestMeta, bulkSync bool) error {
	if s.limiter == nil {
		return nil
	}
	if !s.limiter.IsPermitted(ctx, meta.Actor.Name, bulkSync) {
		s.metrics.Denials.WithLabelValues(authz.ReasonRateLimited.String()).Inc()
		return authz.Deny(authz.ReasonRateLimited).Err()
	}
	return nil
}

// observe updates the operation metrics from the outcome.
func (s *VaultService) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
		switch apperr.KindOf(err) {
		case apperr.KindRetryableConflict:
			s.metrics.Conflicts.Inc()
		case apperr.KindPermissionDenied:
			s.metrics.Denials.WithLabelValues(authz.ReasonOf(err).String()).Inc()
		}
	}
	s.metrics.Operations.WithLabelValues(operation, outcome).Inc()
}

// event pre-fills the audit fields shared by every operation.
func (s *VaultService) event(meta RequestMeta, action models.Action) models.AuditEvent {
	return models.AuditEvent{
		ActorID:  meta.Actor.ID,
		Action:   action,
		SourceIP: meta.SourceIP,
		DeviceID: meta.DeviceID,
		TxnToken: meta.TxnToken,
	}
}

// BeginTransaction opens an explicit transaction for the actor and records
// the begin event inside it.
func (s *VaultService) BeginTransaction(ctx context.Context, meta RequestMeta, operation string) (string, error) {
	if err := s.admit(ctx, meta, false); err != nil {
		return "", err
	}

	token, err := s.coord.Begin(ctx, meta.Actor.ID, operation)
	if err != nil {
		s.observe("begin_transaction", err)
		return "", err
	}

	err = s.coord.With(ctx, token, meta.Actor.ID, func(tx *sql.Tx) error {
		ev := s.event(meta, models.ActionTxnBegun)
		ev.TxnToken = token
		return s.audit.Record(ctx, tx, ev)
	})
	if err != nil {
		_ = s.coord.Rollback(ctx, token, meta.Actor.ID)
		s.observe("begin_transaction", err)
		return "", err
	}
	s.observe("begin_transaction", nil)
	return token, nil
}

// CommitTransaction records the commit event inside the transaction and
// commits it.
func (s *VaultService) CommitTransaction(ctx context.Context, meta RequestMeta, token string) error {
	err := s.coord.With(ctx, token, meta.Actor.ID, func(tx *sql.Tx) error {
		ev := s.event(meta, models.ActionTxnCommitted)
		ev.TxnToken = token
		return s.audit.Record(ctx, tx, ev)
	})
	if err == nil {
		err = s.coord.Commit(ctx, token, meta.Actor.ID)
	}
	s.observe("commit_transaction", err)
	return err
}

// RollbackTransaction discards the transaction's work.
func (s *VaultService) RollbackTransaction(ctx context.Context, meta RequestMeta, token string) error {
	err := s.coord.Rollback(ctx, token, meta.Actor.ID)
	s.observe("rollback_transaction", err)
	return err
}

// AuditEvents queries the audit log.
func (s *VaultService) AuditEvents(ctx context.Context, meta RequestMeta, filter repository.EventFilter) ([]models.AuditEvent, error) {
	if err := s.admit(ctx, meta, false); err != nil {
		return nil, err
	}

	var events []models.AuditEvent
	err := s.run(ctx, meta, func(q repository.Querier) error {
		var err error
		events, err = s.audit.Events(ctx, q, filter)
		return err
	})
	s.observe("audit_events", err)
	if err != nil {
		return nil, err
	}
	return events, nil
}
