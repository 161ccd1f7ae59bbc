// Package store loads finished experiments' JSONL event files into a
// relational SQLite database for third-party analysis. The database is a
// pure function of the event files: re-importing the same directory is
// idempotent.
package store

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseName is the store file inside an experiment directory.
const DatabaseName = "experiments.sqlite"

// Store wraps the SQLite handle. One writer at a time per experiment during
// import; readers may open the file read-only concurrently.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the store for an experiment directory and applies
// the schema.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, DatabaseName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// A single writer performs the import; concurrency comes from readers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the handle for read-only analysis queries in tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the handle.
func (s *Store) Close() error { return s.db.Close() }
