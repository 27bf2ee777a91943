package storage

// visits.go contains SQLiteStore methods for the room visit history shown by
// `roomsync status`.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/codetogether/roomsync/internal/errors"
)

// maxVisits is the maximum number of visits to retain.
// Older visits are deleted when this limit is exceeded.
const maxVisits = 20

// VisitStatus records how a room visit ended (or that it is still live).
type VisitStatus string

const (
	VisitJoined   VisitStatus = "joined"   // Joined and not yet left
	VisitLeft     VisitStatus = "left"     // Left normally
	VisitRejected VisitStatus = "rejected" // Gate or join refused
	VisitFailed   VisitStatus = "failed"   // Transport gave up
)

// RoomVisit is one entry in the visit history.
type RoomVisit struct {
	ID        string
	RoomCode  string
	Username  string
	ServerURL string
	JoinedAt  time.Time
	LastSeen  time.Time
	Status    VisitStatus
}

// SaveVisit persists a visit.
// Uses INSERT OR REPLACE to handle both new visits and updates.
// Enforces retention: keeps only the most recent maxVisits visits.
func (s *SQLiteStore) SaveVisit(v *RoomVisit) error {
	if v == nil {
		return errors.New("visit cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("saving visit", "id", v.ID, "room", v.RoomCode, "status", v.Status)

	const query = `
		INSERT OR REPLACE INTO room_visits
			(id, room_code, username, server_url, joined_at, last_seen, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		v.ID,
		v.RoomCode,
		v.Username,
		v.ServerURL,
		v.JoinedAt.UTC().Format(timeLayout),
		v.LastSeen.UTC().Format(timeLayout),
		string(v.Status),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "save visit", err)
	}

	// Enforce retention: delete oldest visits beyond limit.
	const cleanupQuery = `
		DELETE FROM room_visits WHERE id IN (
			SELECT id FROM room_visits ORDER BY joined_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanupQuery, maxVisits); err != nil {
		return fmt.Errorf("enforce visit retention: %w", err)
	}

	return nil
}

// GetVisit retrieves a visit by ID.
// Returns nil, nil if the visit does not exist.
func (s *SQLiteStore) GetVisit(id string) (*RoomVisit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, room_code, username, server_url, joined_at, last_seen, status
		FROM room_visits
		WHERE id = ?
	`

	v, err := scanVisit(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "get visit", err)
	}
	return v, nil
}

// ListVisits returns recent visits ordered by joined_at (newest first).
// The limit parameter controls how many visits to return (0 = default limit).
func (s *SQLiteStore) ListVisits(limit int) ([]*RoomVisit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = maxVisits
	}

	const query = `
		SELECT id, room_code, username, server_url, joined_at, last_seen, status
		FROM room_visits
		ORDER BY joined_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "list visits", err)
	}
	defer rows.Close()

	visits := make([]*RoomVisit, 0)
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visit rows: %w", err)
	}
	return visits, nil
}

// UpdateVisitStatus sets a visit's status and bumps last_seen.
func (s *SQLiteStore) UpdateVisitStatus(id string, status VisitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE room_visits SET status = ?, last_seen = ? WHERE id = ?`
	_, err := s.db.Exec(query, string(status), time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "update visit status", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*RoomVisit, error) {
	var (
		v        RoomVisit
		joinedAt string
		lastSeen string
		status   string
	)

	err := row.Scan(&v.ID, &v.RoomCode, &v.Username, &v.ServerURL, &joinedAt, &lastSeen, &status)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(timeLayout, joinedAt)
	if err != nil {
		return nil, fmt.Errorf("parse joined_at: %w", err)
	}
	v.JoinedAt = t

	t, err = time.Parse(timeLayout, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	v.LastSeen = t

	v.Status = VisitStatus(status)
	return &v, nil
}
