// Package sqlite persists the application document to an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kitstudio/internal/infra/persistence/memory"
	"kitstudio/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const documentID = "app-state"

// Store keeps the document in memory and overwrites a single SQLite row with
// the full JSON document after every committed transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the SQLite file at path and hydrates the
// in-memory store from the stored document.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "kitstudio.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS document (
		id TEXT PRIMARY KEY,
		revision INTEGER NOT NULL,
		payload BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create document table: %w", err)
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(engine, memory.WithPersister(s.write), memory.WithReloader(s.fetch))
	if err := s.Reload(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
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
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM document WHERE id = ?`, documentID).Scan(&payload)
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

func (s *Store) write(ctx context.Context, doc domain.Document) (retErr error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	updatedAt := doc.UpdatedAt.UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		`UPDATE document SET revision = ?, payload = ?, updated_at = ? WHERE id = ? AND revision = ?`,
		doc.Revision, payload, updatedAt, documentID, doc.Revision-1)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		var stored uint64
		err := tx.QueryRowContext(ctx, `SELECT revision FROM document WHERE id = ?`, documentID).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO document(id, revision, payload, updated_at) VALUES(?,?,?,?)`,
				documentID, doc.Revision, payload, updatedAt); err != nil {
				return fmt.Errorf("insert document: %w", err)
			}
		case err != nil:
			return fmt.Errorf("select revision: %w", err)
		default:
			return fmt.Errorf("%w: stored %d, committing %d", domain.ErrRevisionConflict, stored, doc.Revision)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
