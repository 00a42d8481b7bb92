package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
    id BIGSERIAL PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    password_hash BYTEA NOT NULL,
    public_key BYTEA NOT NULL,
    encrypted_private_key BYTEA NOT NULL,
    verified BOOLEAN NOT NULL DEFAULT FALSE,
    twofa_secret TEXT NOT NULL DEFAULT '',
    backup_codes TEXT NOT NULL DEFAULT '',
    referrer TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS groups (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL CHECK (kind IN ('private', 'autodelete', 'named_team', 'organization')),
    public_key BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS acl_entries (
    id BIGSERIAL PRIMARY KEY,
    group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    member_group_id BIGINT REFERENCES groups(id) ON DELETE CASCADE,
    member_identity_id BIGINT REFERENCES identities(id),
    level TEXT NOT NULL CHECK (level IN ('readonly', 'modify_secrets', 'admin')),
    encrypted_group_key BYTEA NOT NULL,
    CHECK ((member_group_id IS NULL) <> (member_identity_id IS NULL))
);

CREATE TABLE IF NOT EXISTS secrets (
    id BIGSERIAL PRIMARY KEY,
    king_id BIGINT NOT NULL REFERENCES identities(id),
    viewable BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS group_secrets (
    id BIGSERIAL PRIMARY KEY,
    group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    secret_id BIGINT NOT NULL REFERENCES secrets(id) ON DELETE CASCADE,
    client_payload BYTEA NOT NULL,
    critical_payload BYTEA NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    position INT NOT NULL,
    UNIQUE (group_id, secret_id)
);

CREATE TABLE IF NOT EXISTS audit_events (
    id BIGSERIAL PRIMARY KEY,
    actor_id BIGINT NOT NULL,
    identity_id BIGINT,
    secret_id BIGINT,
    group_id BIGINT,
    action TEXT NOT NULL,
    at TIMESTAMPTZ NOT NULL DEFAULT now(),
    source_ip TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    txn_token TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS acl_entries_group_idx ON acl_entries (group_id);
CREATE INDEX IF NOT EXISTS acl_entries_member_group_idx ON acl_entries (member_group_id);
CREATE INDEX IF NOT EXISTS acl_entries_member_identity_idx ON acl_entries (member_identity_id);
CREATE INDEX IF NOT EXISTS group_secrets_secret_idx ON group_secrets (secret_id);
CREATE INDEX IF NOT EXISTS audit_events_at_idx ON audit_events (at DESC);
`

// InitPostgres opens a PostgreSQL connection, verifies it, and applies the
// schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}

// Postgres error codes that indicate the transaction lost a race and must
// be replayed in full: serialization_failure and deadlock_detected.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsSerializationFailure reports whether err is a storage-level
// serialization failure or deadlock, i.e. the whole surrounding operation
// should be retried from a fresh snapshot.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == codeSerializationFailure || code == codeDeadlockDetected
	}
	return false
}
