package attempt

import (
	"sync"
)

// Key identifies the attempt of one student on one exam paper.
type Key struct {
	StudentID int
	PaperID   string
}

// Manager keeps at most one live session per student and paper.
type Manager struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[Key]*Session)}
}

// Acquire returns the live session for key. When there is none, newSession is
// called to create one and created is true.
func (m *Manager) Acquire(key Key, newSession func() *Session) (s *Session, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[key]; ok && existing.Live() {
		return existing, false
	}
	s = newSession()
	m.sessions[key] = s
	return s, true
}

// Get returns the live session for key.
func (m *Manager) Get(key Key) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok || !s.Live() {
		return nil, false
	}
	return s, true
}

// Release forgets s if it is still the session registered under key.
func (m *Manager) Release(key Key, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[key] == s {
		delete(m.sessions, key)
	}
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every registered session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[Key]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
