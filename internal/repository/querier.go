// Package repository provides PostgreSQL persistence for the access-control
// graph and the audit log. Every method takes a Querier so the same code
// runs against the pooled *sql.DB or inside a coordinator-owned *sql.Tx.
package repository

import (
	"context"
	"database/sql"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Mutating operations are always handed a transaction; read-only callers
// may pass the bare handle.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
