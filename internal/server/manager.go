package server

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/retroboard/retroboard/internal/board"
)

// SessionManager is the registry of live connections and the owner of
// display-name uniqueness. Names are compared case-insensitively and
// are held only by active (joined) sessions; they are freed when the
// owning session logs out or its transport closes.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session // connection id -> session
	names    map[string]string   // lowercase display name -> connection id

	totalCreated int
	totalClosed  int
	peak         int

	logger *slog.Logger
}

// ManagerStats summarizes the session registry.
type ManagerStats struct {
	Active       int
	TotalCreated int
	TotalClosed  int
	Peak         int
}

// NewSessionManager returns an empty registry.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		names:    make(map[string]string),
		logger:   logger.With("component", "sessions"),
	}
}

// Add registers a freshly connected session.
func (m *SessionManager) Add(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sess.ID] = sess
	m.totalCreated++
	if len(m.sessions) > m.peak {
		m.peak = len(m.sessions)
	}
}

// Remove unregisters a session and frees any display name it holds.
func (m *SessionManager) Remove(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.ID]; !ok {
		return
	}
	delete(m.sessions, sess.ID)
	m.totalClosed++

	name, _, _ := sess.Identity()
	if name == "" {
		return
	}
	key := strings.ToLower(name)
	if m.names[key] == sess.ID {
		delete(m.names, key)
		m.logger.Debug("display name released", "name", name)
	}
}

// ReserveName binds name to connID. It fails with a duplicate-name
// error when another active session holds the name; re-reserving by
// the same connection is idempotent.
func (m *SessionManager) ReserveName(name, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(name)
	if owner, ok := m.names[key]; ok && owner != connID {
		return board.DuplicateNamef("This username is already in use. Please choose another one.")
	}
	m.names[key] = connID
	return nil
}

// ReleaseName undoes a reservation, e.g. when the color claim of the
// same join fails.
func (m *SessionManager) ReleaseName(name, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(name)
	if m.names[key] == connID {
		delete(m.names, key)
	}
}

// NameInUse reports whether name is held by an active session.
func (m *SessionManager) NameInUse(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.names[strings.ToLower(name)]
	return ok
}

// Get returns the session for a connection id.
func (m *SessionManager) Get(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[connID]
	return sess, ok
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns registry totals.
func (m *SessionManager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ManagerStats{
		Active:       len(m.sessions),
		TotalCreated: m.totalCreated,
		TotalClosed:  m.totalClosed,
		Peak:         m.peak,
	}
}

// Shutdown closes every live session's transport.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}
