package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ndanilin/vaultgraph/internal/models"
)

func setupGraphMock(t *testing.T) (*PostgresGraphRepository, *sql.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresGraphRepository()
	return repo, db, mock, func() { db.Close() }
}

func TestCreateACLEntryIdentityMember(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO acl_entries (group_id, member_group_id, member_identity_id, level, encrypted_group_key)`)).
		WithArgs(int64(3), nil, int64(7), "admin", []byte("key")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := repo.CreateACLEntry(context.Background(), db, models.ACLEntry{
		GroupID:           3,
		Member:            models.IdentityMember(7),
		Level:             models.AccessAdmin,
		EncryptedGroupKey: []byte("key"),
	})
	if err != nil {
		t.Fatalf("CreateACLEntry returned error: %v", err)
	}
	if id != 11 {
		t.Errorf("id = %d; want 11", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreateACLEntryGroupMember(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO acl_entries`)).
		WithArgs(int64(3), int64(9), nil, "readonly", []byte("key")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	_, err := repo.CreateACLEntry(context.Background(), db, models.ACLEntry{
		GroupID:           3,
		Member:            models.GroupMember(9),
		Level:             models.AccessReadOnly,
		EncryptedGroupKey: []byte("key"),
	})
	if err != nil {
		t.Fatalf("CreateACLEntry returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreateACLEntryRejectsInvalidMember(t *testing.T) {
	repo, db, _, cleanup := setupGraphMock(t)
	defer cleanup()

	_, err := repo.CreateACLEntry(context.Background(), db, models.ACLEntry{
		GroupID: 3,
		Level:   models.AccessAdmin,
	})
	if err == nil {
		t.Fatal("memberless entry should be rejected before reaching the database")
	}
}

func TestListEntriesForMemberColumnChoice(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()
	ctx := context.Background()

	cols := []string{"id", "group_id", "member_group_id", "member_identity_id", "level", "encrypted_group_key"}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE member_identity_id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), int64(3), nil, int64(7), "admin", []byte("k")))
	entries, err := repo.ListEntriesForMember(ctx, db, models.IdentityMember(7))
	if err != nil {
		t.Fatalf("ListEntriesForMember returned error: %v", err)
	}
	if len(entries) != 1 || !entries[0].Member.IsIdentity() {
		t.Errorf("entries = %+v; want one identity-member edge", entries)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE member_group_id = $1`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(2), int64(3), int64(9), nil, "readonly", []byte("k")))
	entries, err = repo.ListEntriesForMember(ctx, db, models.GroupMember(9))
	if err != nil {
		t.Fatalf("ListEntriesForMember returned error: %v", err)
	}
	if len(entries) != 1 || !entries[0].Member.IsGroup() {
		t.Errorf("entries = %+v; want one group-member edge", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListEntriesByGroupScansLevels(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	cols := []string{"id", "group_id", "member_group_id", "member_identity_id", "level", "encrypted_group_key"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM acl_entries WHERE group_id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), int64(3), nil, int64(7), "admin", []byte("k")).
			AddRow(int64(2), int64(3), int64(9), nil, "modify_secrets", []byte("k")))

	entries, err := repo.ListEntriesByGroup(context.Background(), db, 3)
	if err != nil {
		t.Fatalf("ListEntriesByGroup returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries; want 2", len(entries))
	}
	if entries[0].Level != models.AccessAdmin || entries[1].Level != models.AccessModifySecrets {
		t.Errorf("levels = %v, %v; want admin, modify_secrets", entries[0].Level, entries[1].Level)
	}
}

func TestListEntriesByGroupRejectsMemberlessRow(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	cols := []string{"id", "group_id", "member_group_id", "member_identity_id", "level", "encrypted_group_key"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM acl_entries WHERE group_id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), int64(3), nil, nil, "admin", []byte("k")))

	if _, err := repo.ListEntriesByGroup(context.Background(), db, 3); err == nil {
		t.Error("a row with neither member column set must fail loudly")
	}
}

func TestSetIdentityVerifiedMissingRow(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE identities SET verified = $2 WHERE id = $1`)).
		WithArgs(int64(42), true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetIdentityVerified(context.Background(), db, 42, true)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("got %v; want sql.ErrNoRows", err)
	}
}

func TestCreateBindingAppendsPosition(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(position), 0) + 1 FROM group_secrets WHERE group_id = $1`)).
		WithArgs(int64(3), int64(5), []byte("c"), []byte("x")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))

	id, err := repo.CreateBinding(context.Background(), db, models.GroupSecret{
		GroupID:         3,
		SecretID:        5,
		ClientPayload:   []byte("c"),
		CriticalPayload: []byte("x"),
	})
	if err != nil {
		t.Fatalf("CreateBinding returned error: %v", err)
	}
	if id != 21 {
		t.Errorf("id = %d; want 21", id)
	}
}

func TestUpdateBindingPayloadsBumpsVersion(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`SET client_payload = $2, critical_payload = $3, version = version + 1`)).
		WithArgs(int64(21), []byte("c2"), []byte("x2")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateBindingPayloads(context.Background(), db, 21, []byte("c2"), []byte("x2"))
	if err != nil {
		t.Fatalf("UpdateBindingPayloads returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateBindingPayloadsMissingBinding(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE group_secrets`)).
		WithArgs(int64(99), []byte("c"), []byte("x")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateBindingPayloads(context.Background(), db, 99, []byte("c"), []byte("x"))
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("got %v; want sql.ErrNoRows", err)
	}
}

func TestGetGroupParsesKind(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, kind, public_key, created_at FROM groups WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "kind", "public_key", "created_at"}).
			AddRow(int64(3), "acme", "organization", []byte("pk"), time.Now()))

	g, err := repo.GetGroup(context.Background(), db, 3)
	if err != nil {
		t.Fatalf("GetGroup returned error: %v", err)
	}
	if !g.IsOrganization() {
		t.Errorf("kind = %q; want organization", g.Kind)
	}
}

func TestDeleteSecretMissingRow(t *testing.T) {
	repo, db, mock, cleanup := setupGraphMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM secrets WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteSecret(context.Background(), db, 5)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("got %v; want sql.ErrNoRows", err)
	}
}
