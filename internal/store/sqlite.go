package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// pragmas run on every new database handle, in order.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=FULL",
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore holds the outbox queues and local drafts in one SQLite file.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at dbPath and brings its
// schema up to date. dbPath may be ":memory:".
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection serializes writers and keeps an in-memory database
	// from splitting into one database per connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path, or "" for an in-memory database.
func (s *SQLiteStore) Path() string {
	if s.path == memoryPath {
		return ""
	}
	return s.path
}

// schemaVersion returns the highest applied migration, 0 on a fresh file.
func (s *SQLiteStore) schemaVersion() (int, error) {
	var exists bool
	err := s.db.Get(&exists,
		"SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return 0, fmt.Errorf("checking schema_version table: %w", err)
	}
	if !exists {
		return 0, nil
	}

	var v int
	if err := s.db.Get(&v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// migrate applies outstanding migrations, each in its own transaction so an
// interrupted upgrade leaves the file at the previous version.
func (s *SQLiteStore) migrate() error {
	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("starting migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
