// Package sqlite implements registry.Store on top of modernc.org/sqlite,
// using a WAL-mode, single-writer, busy-timeout setup.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"wgfleet/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fleet TEXT NOT NULL,
	public_key TEXT NOT NULL,
	assigned_ip TEXT NOT NULL,
	http_request_ip TEXT NOT NULL,
	hostname TEXT,
	timestamp TEXT NOT NULL,
	UNIQUE(fleet, public_key),
	UNIQUE(fleet, assigned_ip),
	UNIQUE(fleet, hostname)
)`

// Store is a registry.Store backed by a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the registry database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize registry schema: %w", err)
	}

	db.SetMaxOpenConns(1) // single writer: SQLite serializes via its own locking anyway

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin opens a new transactional session.
func (s *Store) Begin() (registry.Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin registry session: %w", err)
	}
	return &session{tx: tx}, nil
}

var _ registry.Store = (*Store)(nil)

// isUniqueViolation reports whether err came from a UNIQUE constraint
// violation. modernc.org/sqlite doesn't export a stable sentinel for this
// across versions, so the message is matched the same way the driver's own
// error text is surfaced to callers.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
