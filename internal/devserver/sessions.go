package devserver

import (
	"sync"
	"time"

	"MedChat/internal/session"

	"github.com/google/uuid"
)

type sessionState struct {
	messages  []session.Message
	symptoms  string
	createdAt time.Time
	updatedAt time.Time
}

// SessionManager keeps backend sessions in memory
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewSessionManager creates an empty manager
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*sessionState)}
}

// Create starts a session under a new random id
func (m *SessionManager) Create() string {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(id)
	return id
}

// Ensure creates the session if needed. Chat requests may name ids the
// server has never seen, such as client-generated ones.
func (m *SessionManager) Ensure(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(id)
}

func (m *SessionManager) ensure(id string) *sessionState {
	s, ok := m.sessions[id]
	if !ok {
		now := time.Now()
		s = &sessionState{messages: []session.Message{}, createdAt: now, updatedAt: now}
		m.sessions[id] = s
	}
	return s
}

// Append records a message; a non-empty symptoms value replaces the stored one
func (m *SessionManager) Append(id string, msg session.Message, symptoms string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.ensure(id)
	s.messages = append(s.messages, msg)
	if symptoms != "" {
		s.symptoms = symptoms
	}
	s.updatedAt = time.Now()
}

// Messages returns a copy of the history of a known session
func (m *SessionManager) Messages(id string) ([]session.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	out := make([]session.Message, len(s.messages))
	copy(out, s.messages)
	return out, true
}

// Symptoms returns the stored symptom context of a session
func (m *SessionManager) Symptoms(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s.symptoms
	}
	return ""
}

// Len returns the number of sessions
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
