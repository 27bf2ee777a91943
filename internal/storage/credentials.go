package storage

// credentials.go holds the single room credential written at room entry and
// read back by the session gate.

import (
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/codetogether/roomsync/internal/errors"
)

// Credential is the locally held record that admits the user to one room.
type Credential struct {
	RoomCode      string
	Username      string
	Password      string
	Authenticated bool
	ServerURL     string // Server the credential was issued against (may be empty)
	CreatedAt     time.Time
}

// SaveCredential replaces the stored credential.
func (s *SQLiteStore) SaveCredential(c *Credential) error {
	if c == nil {
		return errors.New("credential cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `
		INSERT OR REPLACE INTO credentials
			(id, room_code, username, password, authenticated, server_url, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		c.RoomCode,
		c.Username,
		c.Password,
		boolToInt(c.Authenticated),
		c.ServerURL,
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "save credential", err)
	}

	s.logger.Debug("saved credential", "room", c.RoomCode, "user", c.Username)
	return nil
}

// LoadCredential returns the stored credential.
// Returns nil, nil if no credential is stored.
func (s *SQLiteStore) LoadCredential() (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT room_code, username, password, authenticated, server_url, created_at
		FROM credentials
		WHERE id = 1
	`

	var (
		c             Credential
		authenticated int
		createdAt     string
	)
	err := s.db.QueryRow(query).Scan(
		&c.RoomCode,
		&c.Username,
		&c.Password,
		&authenticated,
		&c.ServerURL,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "load credential", err)
	}

	c.Authenticated = authenticated != 0
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

// ClearCredential removes the stored credential. Clearing an empty store is
// not an error.
func (s *SQLiteStore) ClearCredential() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM credentials"); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "clear credential", err)
	}
	s.logger.Debug("cleared credential")
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
