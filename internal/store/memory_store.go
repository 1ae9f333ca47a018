package store

import (
	"context"
	"sync"

	"github.com/probelab/scoutrelay/internal/domain"
)

// MemoryStore is the in-process twin of SQLiteStore, used in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[domain.SessionID]domain.Session)}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Status == "" {
		sess.Status = domain.StatusPending
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) FindSession(_ context.Context, id domain.SessionID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id domain.SessionID, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = status
	s.sessions[id] = sess
	return nil
}
