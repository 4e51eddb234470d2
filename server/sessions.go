package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionTTL is how long an idle edit session survives between
// requests before the sweeper reclaims it.
const DefaultSessionTTL = 30 * time.Minute

// managedSession pairs an engine session with its owning agent and expiry.
// The mutex serializes handler access so no two saves for the same session
// can be in flight.
type managedSession struct {
	mu      sync.Mutex
	id      string
	agentID string
	session *toolcfg.Session
	expires time.Time
}

// SessionManager owns the server-held edit sessions. Each browser modal
// invocation maps to one session; closing or saving releases it, and the
// sweeper reclaims abandoned ones.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager creates a manager with the given idle TTL.
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: make(map[string]*managedSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Open registers a new session for an agent and returns its id.
func (m *SessionManager) Open(agentID string, sess *toolcfg.Session) string {
	id := uuid.New().String()
	m.mu.Lock()
	m.sessions[id] = &managedSession{
		id:      id,
		agentID: agentID,
		session: sess,
		expires: m.now().Add(m.ttl),
	}
	m.mu.Unlock()
	return id
}

// get returns the managed session and refreshes its expiry.
func (m *SessionManager) get(id string) (*managedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if m.now().After(ms.expires) {
		delete(m.sessions, id)
		return nil, false
	}
	ms.expires = m.now().Add(m.ttl)
	return ms, true
}

// Close discards a session's state and removes it from the manager.
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		ms.mu.Lock()
		ms.session.Close()
		ms.mu.Unlock()
	}
}

// Sweep discards sessions idle past their TTL and returns how many were
// reclaimed. Driven periodically by the serve command's cron schedule.
// Expired entries are unlinked under the manager lock, then closed under
// their own lock so a sweep never races an in-flight handler.
func (m *SessionManager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	var expired []*managedSession
	for id, ms := range m.sessions {
		if now.After(ms.expires) {
			expired = append(expired, ms)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, ms := range expired {
		ms.mu.Lock()
		ms.session.Close()
		ms.mu.Unlock()
	}
	return len(expired)
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
