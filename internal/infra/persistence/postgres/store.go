// Package postgres provides a Postgres-backed document store that mirrors the
// in-memory semantics and overwrites one JSONB row per committed transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"kitstudio/internal/infra/persistence/memory"
	"kitstudio/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/kitstudio?sslmode=disable"
	documentID    = "app-state"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists the document to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN),
// ensures the document table exists and hydrates the in-memory store.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureDocumentTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db}
	s.Store = memory.NewStore(engine, memory.WithPersister(s.write), memory.WithReloader(s.fetch))
	if err := s.Reload(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func ensureDocumentTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS document (
		id TEXT PRIMARY KEY,
		revision BIGINT NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure document table: %w", err)
	}
	return nil
}

// Reload replaces the in-memory document with the stored one.
func (s *Store) Reload(ctx context.Context) error {
	doc, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.ImportState(doc)
	return nil
}

// fetch reads the stored document. An empty table yields the zero document.
func (s *Store) fetch(ctx context.Context) (domain.Document, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM document WHERE id = $1`, documentID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, nil
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("select document: %w", err)
	}
	var doc domain.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func (s *Store) write(ctx context.Context, doc domain.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	// a stale base revision updates no row
	res, err := tx.ExecContext(ctx,
		`INSERT INTO document(id, revision, payload, updated_at) VALUES($1,$2,$3,$4)
		ON CONFLICT(id) DO UPDATE SET revision=EXCLUDED.revision, payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at
		WHERE document.revision = $5`,
		documentID, int64(doc.Revision), payload, doc.UpdatedAt, int64(doc.Revision)-1)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: committing %d", domain.ErrRevisionConflict, doc.Revision)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
