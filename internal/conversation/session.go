package conversation

import (
	"sync"
	"time"
)

// Session is one user's in-progress dialogue.
type Session struct {
	UserID int64
	State  State

	// DraftText is the task text collected in the creation flow.
	DraftText string

	// TargetTaskID is the task being edited in the editing flow.
	TargetTaskID int64

	UpdatedAt time.Time
}

func (s Session) Flow() Flow {
	return s.State.Flow()
}

// SessionStore keeps sessions keyed by user id. Lock serializes all work
// for one user; callers hold it for the whole read-modify-write of a
// session.
type SessionStore interface {
	Get(userID int64) (Session, bool)
	Put(s Session)
	Delete(userID int64)
	Lock(userID int64) (unlock func())
}

// MemorySessions is an in-process SessionStore. Sessions idle for longer
// than IdleTimeout are treated as gone; a zero IdleTimeout keeps them
// until the flow ends.
type MemorySessions struct {
	IdleTimeout time.Duration
	Now         func() time.Time

	mu       sync.Mutex
	sessions map[int64]Session
	locks    map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemorySessions(idleTimeout time.Duration) *MemorySessions {
	return &MemorySessions{
		IdleTimeout: idleTimeout,
		Now:         time.Now,
		sessions:    make(map[int64]Session),
		locks:       make(map[int64]*userLock),
	}
}

func (m *MemorySessions) Get(userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	if m.expiredLocked(s) {
		delete(m.sessions, userID)
		return Session{}, false
	}
	return s, true
}

func (m *MemorySessions) Put(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.UpdatedAt = m.Now()
	m.sessions[s.UserID] = s
}

func (m *MemorySessions) Delete(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

func (m *MemorySessions) Lock(userID int64) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// Len returns the number of live sessions.
func (m *MemorySessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		if !m.expiredLocked(s) {
			n++
		}
	}
	return n
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemorySessions) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if m.expiredLocked(s) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *MemorySessions) expiredLocked(s Session) bool {
	if m.IdleTimeout <= 0 {
		return false
	}
	return m.Now().Sub(s.UpdatedAt) > m.IdleTimeout
}
