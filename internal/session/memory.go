package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-process map. Expired sessions are
// dropped on lookup and by a periodic cleanup.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start runs the cleanup loop every interval until Stop is called.
func (m *MemoryStore) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Cleanup()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop.
func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Expired(m.now()) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s.Clone()
	return nil
}

// Update applies fn to a copy of the session under the store lock and keeps
// the copy only when fn succeeds. fn must not call back into the store.
func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	now := m.now()
	if !ok || s.Expired(now) {
		delete(m.sessions, id)
		return ErrNotFound
	}
	c := s.Clone()
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = now
	m.sessions[id] = c
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// Cleanup removes expired sessions and returns how many were dropped.
func (m *MemoryStore) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, including expired ones not yet cleaned up.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
