package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ndanilin/vaultgraph/internal/models"
)

// PostgresGraphRepository persists identities, groups, ACL edges, secrets,
// and group-secret bindings.
type PostgresGraphRepository struct{}

// NewPostgresGraphRepository creates a PostgresGraphRepository. The
// repository is stateless; the Querier passed per call decides whether work
// happens inside a transaction.
func NewPostgresGraphRepository() *PostgresGraphRepository {
	return &PostgresGraphRepository{}
}

// ErrNoRows is re-exported so callers need not import database/sql to
// distinguish "absent" from a real failure.
var ErrNoRows = sql.ErrNoRows

// CreateIdentity inserts a new identity and returns its id.
func (r *PostgresGraphRepository) CreateIdentity(ctx context.Context, q Querier, ident models.Identity) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO identities (name, password_hash, public_key, encrypted_private_key, verified, twofa_secret, backup_codes, referrer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, ident.Name, ident.PasswordHash, ident.PublicKey, ident.EncryptedPrivateKey,
		ident.Verified, ident.TwoFactorSecret, ident.BackupCodes, ident.Referrer).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create identity: %w", err)
	}
	return id, nil
}

// GetIdentity fetches an identity by id.
func (r *PostgresGraphRepository) GetIdentity(ctx context.Context, q Querier, id int64) (*models.Identity, error) {
	return r.scanIdentity(q.QueryRowContext(ctx, `
		SELECT id, name, password_hash, public_key, encrypted_private_key, verified, twofa_secret, backup_codes, referrer, created_at
		FROM identities WHERE id = $1
	`, id))
}

// GetIdentityByName fetches an identity by its unique name.
func (r *PostgresGraphRepository) GetIdentityByName(ctx context.Context, q Querier, name string) (*models.Identity, error) {
	return r.scanIdentity(q.QueryRowContext(ctx, `
		SELECT id, name, password_hash, public_key, encrypted_private_key, verified, twofa_secret, backup_codes, referrer, created_at
		FROM identities WHERE name = $1
	`, name))
}

func (r *PostgresGraphRepository) scanIdentity(row *sql.Row) (*models.Identity, error) {
	var ident models.Identity
	err := row.Scan(&ident.ID, &ident.Name, &ident.PasswordHash, &ident.PublicKey,
		&ident.EncryptedPrivateKey, &ident.Verified, &ident.TwoFactorSecret,
		&ident.BackupCodes, &ident.Referrer, &ident.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// SetIdentityVerified flips the verification flag.
func (r *PostgresGraphRepository) SetIdentityVerified(ctx context.Context, q Querier, id int64, verified bool) error {
	res, err := q.ExecContext(ctx, `UPDATE identities SET verified = $2 WHERE id = $1`, id, verified)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateGroup inserts a new group and returns its id.
func (r *PostgresGraphRepository) CreateGroup(ctx context.Context, q Querier, group models.Group) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO groups (name, kind, public_key) VALUES ($1, $2, $3) RETURNING id
	`, group.Name, string(group.Kind), group.PublicKey).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create group: %w", err)
	}
	return id, nil
}

// GetGroup fetches a group by id.
func (r *PostgresGraphRepository) GetGroup(ctx context.Context, q Querier, id int64) (*models.Group, error) {
	var g models.Group
	var kind string
	err := q.QueryRowContext(ctx, `
		SELECT id, name, kind, public_key, created_at FROM groups WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &kind, &g.PublicKey, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	g.Kind = models.GroupKind(kind)
	return &g, nil
}

// DeleteGroup removes a group; its ACL edges and bindings cascade.
func (r *PostgresGraphRepository) DeleteGroup(ctx context.Context, q Querier, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateACLEntry inserts an ACL edge and returns its id. The Member sum
// type maps onto the pair of nullable member columns.
func (r *PostgresGraphRepository) CreateACLEntry(ctx context.Context, q Querier, entry models.ACLEntry) (int64, error) {
	if err := entry.Member.Validate(); err != nil {
		return 0, fmt.Errorf("create acl entry: %w", err)
	}
	memberGroup := sql.NullInt64{}
	memberIdentity := sql.NullInt64{}
	if entry.Member.IsGroup() {
		memberGroup = sql.NullInt64{Int64: entry.Member.ID, Valid: true}
	} else {
		memberIdentity = sql.NullInt64{Int64: entry.Member.ID, Valid: true}
	}

	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO acl_entries (group_id, member_group_id, member_identity_id, level, encrypted_group_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, entry.GroupID, memberGroup, memberIdentity, entry.Level.String(), entry.EncryptedGroupKey).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create acl entry: %w", err)
	}
	return id, nil
}

// DeleteACLEntry removes a single ACL edge.
func (r *PostgresGraphRepository) DeleteACLEntry(ctx context.Context, q Querier, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM acl_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete acl entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListEntriesByGroup returns the outgoing ACL edges owned by a group.
func (r *PostgresGraphRepository) ListEntriesByGroup(ctx context.Context, q Querier, groupID int64) ([]models.ACLEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, group_id, member_group_id, member_identity_id, level, encrypted_group_key
		FROM acl_entries WHERE group_id = $1
		ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list entries by group: %w", err)
	}
	return scanEntries(rows)
}

// ListEntriesForMember returns the ACL edges whose member side matches,
// i.e. the edges used when walking upward from an identity or group.
func (r *PostgresGraphRepository) ListEntriesForMember(ctx context.Context, q Querier, member models.Member) ([]models.ACLEntry, error) {
	if err := member.Validate(); err != nil {
		return nil, fmt.Errorf("list entries for member: %w", err)
	}
	column := "member_identity_id"
	if member.IsGroup() {
		column = "member_group_id"
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, group_id, member_group_id, member_identity_id, level, encrypted_group_key
		FROM acl_entries WHERE `+column+` = $1
		ORDER BY id
	`, member.ID)
	if err != nil {
		return nil, fmt.Errorf("list entries for member: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]models.ACLEntry, error) {
	defer rows.Close()

	var entries []models.ACLEntry
	for rows.Next() {
		var e models.ACLEntry
		var memberGroup, memberIdentity sql.NullInt64
		var level string
		if err := rows.Scan(&e.ID, &e.GroupID, &memberGroup, &memberIdentity, &level, &e.EncryptedGroupKey); err != nil {
			return nil, fmt.Errorf("scan acl entry: %w", err)
		}
		switch {
		case memberGroup.Valid:
			e.Member = models.GroupMember(memberGroup.Int64)
		case memberIdentity.Valid:
			e.Member = models.IdentityMember(memberIdentity.Int64)
		default:
			return nil, errors.New("acl entry with no member")
		}
		e.Level = models.ParseAccessLevel(level)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateSecret inserts a secret and returns its id.
func (r *PostgresGraphRepository) CreateSecret(ctx context.Context, q Querier, secret models.Secret) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO secrets (king_id, viewable) VALUES ($1, $2) RETURNING id
	`, secret.KingID, secret.Viewable).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create secret: %w", err)
	}
	return id, nil
}

// GetSecret fetches a secret by id.
func (r *PostgresGraphRepository) GetSecret(ctx context.Context, q Querier, id int64) (*models.Secret, error) {
	var s models.Secret
	err := q.QueryRowContext(ctx, `
		SELECT id, king_id, viewable FROM secrets WHERE id = $1
	`, id).Scan(&s.ID, &s.KingID, &s.Viewable)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSecret removes a secret; remaining bindings cascade.
func (r *PostgresGraphRepository) DeleteSecret(ctx context.Context, q Querier, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM secrets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateBinding inserts a group-secret binding at the next free position
// within the group and returns its id.
func (r *PostgresGraphRepository) CreateBinding(ctx context.Context, q Querier, b models.GroupSecret) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO group_secrets (group_id, secret_id, client_payload, critical_payload, version, position)
		VALUES ($1, $2, $3, $4, 1,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM group_secrets WHERE group_id = $1))
		RETURNING id
	`, b.GroupID, b.SecretID, b.ClientPayload, b.CriticalPayload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create binding: %w", err)
	}
	return id, nil
}

// GetBinding fetches the binding of a secret in a group, if any.
func (r *PostgresGraphRepository) GetBinding(ctx context.Context, q Querier, groupID, secretID int64) (*models.GroupSecret, error) {
	var b models.GroupSecret
	err := q.QueryRowContext(ctx, `
		SELECT id, group_id, secret_id, client_payload, critical_payload, version, position
		FROM group_secrets WHERE group_id = $1 AND secret_id = $2
	`, groupID, secretID).Scan(&b.ID, &b.GroupID, &b.SecretID, &b.ClientPayload,
		&b.CriticalPayload, &b.Version, &b.Position)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBindingsBySecret returns every binding of a secret.
func (r *PostgresGraphRepository) ListBindingsBySecret(ctx context.Context, q Querier, secretID int64) ([]models.GroupSecret, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, group_id, secret_id, client_payload, critical_payload, version, position
		FROM group_secrets WHERE secret_id = $1
		ORDER BY group_id, position
	`, secretID)
	if err != nil {
		return nil, fmt.Errorf("list bindings by secret: %w", err)
	}
	return scanBindings(rows)
}

// ListBindingsByGroup returns a group's bindings in position order. The
// order is load-bearing: payload rewrites must preserve it.
func (r *PostgresGraphRepository) ListBindingsByGroup(ctx context.Context, q Querier, groupID int64) ([]models.GroupSecret, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, group_id, secret_id, client_payload, critical_payload, version, position
		FROM group_secrets WHERE group_id = $1
		ORDER BY position
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list bindings by group: %w", err)
	}
	return scanBindings(rows)
}

func scanBindings(rows *sql.Rows) ([]models.GroupSecret, error) {
	defer rows.Close()

	var bindings []models.GroupSecret
	for rows.Next() {
		var b models.GroupSecret
		if err := rows.Scan(&b.ID, &b.GroupID, &b.SecretID, &b.ClientPayload,
			&b.CriticalPayload, &b.Version, &b.Position); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// UpdateBindingPayloads rewrites a binding's encrypted payloads in place,
// bumping the version. Position and count are untouched.
func (r *PostgresGraphRepository) UpdateBindingPayloads(ctx context.Context, q Querier, bindingID int64, clientPayload, criticalPayload []byte) error {
	res, err := q.ExecContext(ctx, `
		UPDATE group_secrets
		SET client_payload = $2, critical_payload = $3, version = version + 1
		WHERE id = $1
	`, bindingID, clientPayload, criticalPayload)
	if err != nil {
		return fmt.Errorf("update binding payloads: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteBinding removes one group-secret binding.
func (r *PostgresGraphRepository) DeleteBinding(ctx context.Context, q Querier, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM group_secrets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
