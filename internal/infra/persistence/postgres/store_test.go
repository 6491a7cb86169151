package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"kitstudio/pkg/domain"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T, stored *domain.Document) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		if driver != defaultDriver {
			t.Fatalf("unexpected driver %s", driver)
		}
		return db, nil
	})
	t.Cleanup(restore)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS document")).WillReturnResult(sqlmock.NewResult(0, 0))
	query := mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM document WHERE id = $1")).WithArgs(documentID)
	if stored == nil {
		query.WillReturnError(sql.ErrNoRows)
	} else {
		payload, err := json.Marshal(stored)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		query.WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	}

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, mock
}

func TestNewStoreHydratesFromStoredDocument(t *testing.T) {
	stored := &domain.Document{
		Revision: 4,
		DrumKits: []domain.Kit{{Base: domain.Base{ID: "k1", CreatedAt: time.Unix(0, 0).UTC()}, Name: "Stored"}},
	}
	store, mock := newMockStore(t, stored)
	if store.Revision() != 4 {
		t.Fatalf("expected revision 4, got %d", store.Revision())
	}
	if kits := store.ListKits(); len(kits) != 1 || kits[0].Name != "Stored" {
		t.Fatalf("unexpected kits %+v", kits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitOverwritesDocumentRow(t *testing.T) {
	store, mock := newMockStore(t, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO document(id, revision, payload, updated_at)")).
		WithArgs(documentID, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateKit(domain.Kit{Name: "Fresh"})
		return e
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func expectStoredDocument(t *testing.T, mock sqlmock.Sqlmock, doc domain.Document) {
	t.Helper()
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM document WHERE id = $1")).
		WithArgs(documentID).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
}

func TestCommitConflictReloadsAndRetries(t *testing.T) {
	store, mock := newMockStore(t, nil)
	remote := domain.Document{
		Revision: 3,
		DrumKits: []domain.Kit{{Base: domain.Base{ID: "remote"}, Name: "Written elsewhere"}},
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO document")).
		WithArgs(documentID, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	expectStoredDocument(t, mock, remote)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO document")).
		WithArgs(documentID, int64(4), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateKit(domain.Kit{Name: "Local"})
		return e
	})
	if err != nil {
		t.Fatalf("commit after reload: %v", err)
	}
	if store.Revision() != 4 || len(store.ListKits()) != 2 {
		t.Fatalf("expected revision 4 with both kits, got %d %+v", store.Revision(), store.ListKits())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitConflictTwiceFails(t *testing.T) {
	store, mock := newMockStore(t, nil)
	remote := domain.Document{
		Revision: 2,
		DrumKits: []domain.Kit{{Base: domain.Base{ID: "remote"}, Name: "Written elsewhere"}},
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO document")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	expectStoredDocument(t, mock, remote)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO document")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateKit(domain.Kit{Name: "Loser"})
		return e
	})
	if !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
	kits := store.ListKits()
	if len(kits) != 1 || kits[0].ID != "remote" || store.Revision() != 2 {
		t.Fatalf("expected the reloaded document, got rev %d %+v", store.Revision(), kits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewStoreOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	if _, err := NewStore("postgres://x", nil); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestNewStoreDDLError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()
	if _, err := NewStore("", nil); err == nil {
		t.Fatalf("expected ddl error")
	}
}
