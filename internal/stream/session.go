package stream

import (
	"sync"
	"time"

	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/google/uuid"
)

// Session is one connected change-feed subscriber.
type Session struct {
	ID         string
	RemoteAddr string
	UserAgent  string
	CreatedAt  time.Time

	send chan models.ChangeMessage
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	sent int
}

func newSession(remoteAddr, userAgent string, buffer int) *Session {
	return &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		CreatedAt:  time.Now().UTC(),
		send:       make(chan models.ChangeMessage, buffer),
		done:       make(chan struct{}),
	}
}

// Done is closed when the session is removed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Messages delivers frames queued for this session.
func (s *Session) Messages() <-chan models.ChangeMessage { return s.send }

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}

// offer queues msg without blocking. A full buffer marks the session as a
// slow consumer and closes it.
func (s *Session) offer(msg models.ChangeMessage) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		s.mu.Lock()
		s.sent++
		s.mu.Unlock()
		return true
	default:
		s.close()
		return false
	}
}

type sessionView struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remoteAddr"`
	UserAgent  string    `json:"userAgent,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Sent       int       `json:"sent"`
}

func (s *Session) toView() sessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionView{
		ID:         s.ID,
		RemoteAddr: s.RemoteAddr,
		UserAgent:  s.UserAgent,
		CreatedAt:  s.CreatedAt,
		Sent:       s.sent,
	}
}

// SessionManager tracks connected sessions up to a fixed capacity.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
	buffer   int
}

// NewSessionManager creates a manager allowing at most max sessions, each
// with a send buffer of buffer frames.
func NewSessionManager(max, buffer int) *SessionManager {
	if buffer < 1 {
		buffer = 1
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		max:      max,
		buffer:   buffer,
	}
}

// Open registers a new session, or returns false when at capacity.
func (m *SessionManager) Open(remoteAddr, userAgent string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && len(m.sessions) >= m.max {
		return nil, false
	}
	s := newSession(remoteAddr, userAgent, m.buffer)
	m.sessions[s.ID] = s
	return s, true
}

// Close removes and closes a session.
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

// CloseAll closes every session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// Broadcast offers msg to every session and returns how many accepted it.
func (m *SessionManager) Broadcast(msg models.ChangeMessage) int {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range targets {
		if s.offer(msg) {
			n++
		} else {
			m.Close(s.ID)
		}
	}
	return n
}

// List returns a snapshot of open sessions.
func (m *SessionManager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
