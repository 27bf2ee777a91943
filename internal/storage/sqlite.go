// Package storage persists roomsync's local client state: the room credential
// written at room entry and the history of room visits.
package storage

import (
	"database/sql"
	"sync"

	"github.com/charmbracelet/log"

	// SQLite driver - imported for side effects (registers the driver).
	// Using modernc.org/sqlite which is a pure-Go implementation that
	// doesn't require CGO, making cross-compilation and testing easier.
	_ "modernc.org/sqlite"

	apperrors "github.com/codetogether/roomsync/internal/errors"
)

// timeLayout is a fixed-width UTC timestamp so that ORDER BY on the text
// column sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore holds the credential record and visit history in SQLite.
// It creates the database and tables on first use and supports
// concurrent access through internal locking.
type SQLiteStore struct {
	db     *sql.DB      // Database connection handle.
	mu     sync.RWMutex // Guards all database operations for thread safety.
	logger *log.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// It initializes the schema if the tables don't exist.
// Use ":memory:" for an in-memory database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := log.WithPrefix("storage")
	logger.Debug("opening database", "path", path)

	// Open database with foreign keys enabled for referential integrity.
	// The busy_timeout covers a CLI command racing a running room session.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}

	// Every pooled connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)

	// Verify the connection is working.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	store := &SQLiteStore{db: db, logger: logger}

	// Create tables if they don't exist.
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}

	logger.Debug("database ready", "schema_version", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Debug("closing database")
	return s.db.Close()
}
