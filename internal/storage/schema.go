package storage

import (
	"fmt"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 2

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *SQLiteStore) initSchema() error {
	// Schema version table tracks database migrations.
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// Check current version
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the credentials table.
func (s *SQLiteStore) migrateToV1() error {
	s.logger.Info("applying migration", "version", 1)

	// The CHECK constraint pins the table to a single row: one client holds
	// at most one room credential at a time.
	const credentialsTable = `
		CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			room_code TEXT NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			authenticated INTEGER NOT NULL DEFAULT 0,
			server_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(credentialsTable); err != nil {
		return fmt.Errorf("create credentials table: %w", err)
	}

	return s.recordVersion(1)
}

// migrateToV2 adds the room visit history.
func (s *SQLiteStore) migrateToV2() error {
	s.logger.Info("applying migration", "version", 2)

	const visitsTable = `
		CREATE TABLE IF NOT EXISTS room_visits (
			id TEXT PRIMARY KEY,
			room_code TEXT NOT NULL,
			username TEXT NOT NULL,
			server_url TEXT NOT NULL DEFAULT '',
			joined_at TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'joined'
		);

		CREATE INDEX IF NOT EXISTS idx_room_visits_joined_at ON room_visits(joined_at);
	`

	if _, err := s.db.Exec(visitsTable); err != nil {
		return fmt.Errorf("create room_visits table: %w", err)
	}

	return s.recordVersion(2)
}

func (s *SQLiteStore) recordVersion(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record schema version %d: %w", version, err)
	}
	return nil
}
