// Package memory keeps sessions in process memory. Used by the interactive
// host when nothing needs to outlive the process, and by tests.
package memory

import (
	"context"
	"sync"

	"github.com/bnema/pagerun/internal/domain"
)

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: map[domain.SessionID]domain.Session{}}
}

func (r *SessionRepository) GetByID(_ context.Context, id domain.SessionID) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (r *SessionRepository) List(_ context.Context) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session.Clone())
	}
	return out, nil
}

func (r *SessionRepository) Save(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}
