// Package audit records and queries the append-only action log. Audit
// writes happen inside the operation's transaction: if the audit store is
// unavailable the whole operation fails rather than silently dropping the
// record.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
)

// Store is the durable append-only sink and its query side.
// *repository.PostgresAuditRepository satisfies it.
type Store interface {
	Insert(ctx context.Context, q repository.Querier, event models.AuditEvent) error
	Events(ctx context.Context, q repository.Querier, filter repository.EventFilter) ([]models.AuditEvent, error)
}

// Recorder appends audit events and serves audit queries.
type Recorder struct {
	store Store
	log   *zap.Logger
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store, log *zap.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Record appends one immutable event, stamping the time if unset. The
// returned error must propagate: the surrounding transaction fails when the
// audit write does.
func (r *Recorder) Record(ctx context.Context, q repository.Querier, event models.AuditEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if err := r.store.Insert(ctx, q, event); err != nil {
		r.log.Error("audit write failed",
			zap.String("action", string(event.Action)),
			zap.Int64("actor", event.ActorID),
			zap.Error(err))
		return err
	}
	return nil
}

// Events queries the log, newest first. The id filters are OR'ed together,
// each limited to its category's allowed actions, then AND'ed with the
// time range.
func (r *Recorder) Events(ctx context.Context, q repository.Querier, filter repository.EventFilter) ([]models.AuditEvent, error) {
	return r.store.Events(ctx, q, filter)
}
