package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ndanilin/vaultgraph/internal/models"
)

// PostgresAuditRepository persists the append-only audit log.
type PostgresAuditRepository struct{}

// NewPostgresAuditRepository creates a PostgresAuditRepository.
func NewPostgresAuditRepository() *PostgresAuditRepository {
	return &PostgresAuditRepository{}
}

// Insert appends one audit event. Events are never updated or deleted;
// there is deliberately no corresponding write path.
func (r *PostgresAuditRepository) Insert(ctx context.Context, q Querier, event models.AuditEvent) error {
	if !event.Action.Valid() {
		return fmt.Errorf("insert audit event: unknown action %q", event.Action)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_events (actor_id, identity_id, secret_id, group_id, action, at, source_ip, device_id, txn_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ActorID, nullID(event.IdentityID), nullID(event.SecretID), nullID(event.GroupID),
		string(event.Action), event.At, event.SourceIP, event.DeviceID, event.TxnToken)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func nullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

// EventFilter selects audit events. The three id filters are OR'ed
// together, each restricted to its category's allowed actions; the time
// range is then AND'ed over the union.
type EventFilter struct {
	UserIDs   []int64
	SecretIDs []int64
	GroupIDs  []int64
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Events queries audit events ordered by timestamp descending.
func (r *PostgresAuditRepository) Events(ctx context.Context, q Querier, filter EventFilter) ([]models.AuditEvent, error) {
	var ors []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.UserIDs) > 0 {
		ors = append(ors, fmt.Sprintf(
			"(actor_id = ANY(%s) AND action = ANY(%s))",
			arg(pq.Array(filter.UserIDs)), arg(pq.Array(actionNames(models.UserActions)))))
	}
	if len(filter.SecretIDs) > 0 {
		ors = append(ors, fmt.Sprintf(
			"(secret_id = ANY(%s) AND action = ANY(%s))",
			arg(pq.Array(filter.SecretIDs)), arg(pq.Array(actionNames(models.SecretActions)))))
	}
	if len(filter.GroupIDs) > 0 {
		ors = append(ors, fmt.Sprintf(
			"(group_id = ANY(%s) AND action = ANY(%s))",
			arg(pq.Array(filter.GroupIDs)), arg(pq.Array(actionNames(models.GroupActions)))))
	}
	if len(ors) == 0 {
		// No id filter selects nothing rather than everything.
		return nil, nil
	}

	where := "(" + strings.Join(ors, " OR ") + ")"
	if !filter.From.IsZero() {
		where += " AND at >= " + arg(filter.From)
	}
	if !filter.To.IsZero() {
		where += " AND at <= " + arg(filter.To)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, actor_id, identity_id, secret_id, group_id, action, at, source_ip, device_id, txn_token
		FROM audit_events
		WHERE ` + where + `
		ORDER BY at DESC
		LIMIT ` + arg(limit) + ` OFFSET ` + arg(filter.Offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var identityID, secretID, groupID sql.NullInt64
		var action string
		if err := rows.Scan(&e.ID, &e.ActorID, &identityID, &secretID, &groupID,
			&action, &e.At, &e.SourceIP, &e.DeviceID, &e.TxnToken); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.IdentityID = identityID.Int64
		e.SecretID = secretID.Int64
		e.GroupID = groupID.Int64
		e.Action = models.Action(action)
		events = append(events, e)
	}
	return events, rows.Err()
}

func actionNames(actions []models.Action) []string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return names
}
