// Package session stores batch progress sessions.
package session

import (
	"context"
	"sync"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// MemoryStore keeps sessions in process memory. Values are cloned on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ProgressSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.ProgressSession)}
}

func (s *MemoryStore) Create(_ context.Context, session *domain.ProgressSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.SessionID]; ok {
		return out.ErrSessionExists
	}
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

func (s *MemoryStore) Save(_ context.Context, session *domain.ProgressSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.SessionID]
	if !ok {
		return out.ErrSessionNotFound
	}
	if err := checkProgression(current, session); err != nil {
		return err
	}
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*domain.ProgressSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, out.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, session := range s.sessions {
		if session.Status.IsTerminal() && session.CompletedAt != nil && session.CompletedAt.Before(cutoff) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// checkProgression rejects writes that would move a reader backwards.
func checkProgression(current, next *domain.ProgressSession) error {
	if next.ProcessedEmails < current.ProcessedEmails {
		return out.ErrStaleProgress
	}
	if current.Status.IsTerminal() && next.Status != current.Status {
		return out.ErrStaleProgress
	}
	return nil
}

var _ out.ProgressStore = (*MemoryStore)(nil)
