package pty

import (
	"errors"
	"strings"
	"sync"
)

// ErrSessionNotFound is returned when attempting to access a session
// that doesn't exist in the manager.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when attempting to create a session
// with an ID that already exists.
var ErrSessionExists = errors.New("session already exists")

// ErrMaxSessionsReached is returned when the session limit has been reached.
var ErrMaxSessionsReached = errors.New("maximum number of sessions reached")

// DefaultMaxSessions caps concurrent shells across all rooms.
const DefaultMaxSessions = 64

// Key is the manager ID of a member's shell in a room.
func Key(roomCode, memberID string) string {
	return roomCode + "/" + memberID
}

// Manager tracks the running shells of every room.
//
// Each room member gets at most one shell, keyed by Key(room, member).
// Sessions are created unstarted; the caller starts them.
type Manager struct {
	sessions    map[string]*Session
	maxSessions int
	mu          sync.RWMutex
}

// NewManager creates a manager. If maxSessions is 0 or negative,
// DefaultMaxSessions is used.
func NewManager(maxSessions int) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Create registers a new, unstarted session under id.
//
// Returns ErrSessionExists if id is taken and ErrMaxSessionsReached if the
// manager is full.
func (m *Manager) Create(id string, cfg SessionConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, ErrSessionExists
	}
	if len(m.sessions) >= m.maxSessions {
		return nil, ErrMaxSessionsReached
	}

	cfg.ID = id
	session := NewSession(cfg)
	m.sessions[id] = session
	return session, nil
}

// Get returns the session for id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove forgets id without stopping it; used when a shell exits on its
// own. It only removes the entry if it is still s.
func (m *Manager) Remove(id string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
}

// Close stops a session, waits for it to exit, and removes it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if !exists {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	stopAndWait(session)
	return nil
}

// CloseRoom stops every shell in a room and returns how many it stopped.
func (m *Manager) CloseRoom(roomCode string) int {
	prefix := roomCode + "/"

	m.mu.Lock()
	var victims []*Session
	for id, s := range m.sessions {
		if strings.HasPrefix(id, prefix) {
			victims = append(victims, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	stopAll(victims)
	return len(victims)
}

// CloseAll stops all sessions, concurrently, and clears the manager.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	victims := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		victims = append(victims, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	stopAll(victims)
}

func stopAll(sessions []*Session) {
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			stopAndWait(s)
		}(s)
	}
	wg.Wait()
}

func stopAndWait(s *Session) {
	if !s.IsRunning() {
		return
	}
	_ = s.Stop()
	<-s.Done()
}

// Count returns the number of sessions in the manager.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// MaxSessions returns the configured maximum number of sessions.
func (m *Manager) MaxSessions() int {
	return m.maxSessions
}
