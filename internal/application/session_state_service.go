package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
)

// SessionStateService is the per-session key-value bag that persists across
// reruns. Unknown sessions read as empty bags and are created on first write.
type SessionStateService struct {
	sessions ports.SessionRepository
	clock    ports.Clock
	locks    sync.Map
}

func NewSessionStateService(sessions ports.SessionRepository, clock ports.Clock) *SessionStateService {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &SessionStateService{sessions: sessions, clock: clock}
}

func (s *SessionStateService) Get(ctx context.Context, id domain.SessionID, key string) (any, bool, error) {
	session, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, false, err
	}

	value, ok := session.Value(key)
	return value, ok, nil
}

func (s *SessionStateService) Set(ctx context.Context, id domain.SessionID, key string, value any) error {
	return s.update(ctx, id, func(session *domain.Session) bool {
		session.Values[key] = value
		return true
	})
}

// EnsureDefault stores value under key only when the key is absent and
// returns whatever is stored afterwards.
func (s *SessionStateService) EnsureDefault(ctx context.Context, id domain.SessionID, key string, value any) (any, error) {
	var current any
	err := s.update(ctx, id, func(session *domain.Session) bool {
		if existing, ok := session.Values[key]; ok {
			current = existing
			return false
		}
		session.Values[key] = value
		current = value
		return true
	})
	if err != nil {
		return nil, err
	}

	return current, nil
}

func (s *SessionStateService) Delete(ctx context.Context, id domain.SessionID, key string) error {
	return s.update(ctx, id, func(session *domain.Session) bool {
		if _, ok := session.Values[key]; !ok {
			return false
		}
		delete(session.Values, key)
		return true
	})
}

func (s *SessionStateService) SetWidget(ctx context.Context, id domain.SessionID, widget string, value any) error {
	return s.update(ctx, id, func(session *domain.Session) bool {
		session.Widgets[widget] = value
		return true
	})
}

// RecordRun advances the persisted run sequence. Lower sequence numbers are ignored.
func (s *SessionStateService) RecordRun(ctx context.Context, id domain.SessionID, seq uint64) error {
	return s.update(ctx, id, func(session *domain.Session) bool {
		if seq <= session.LastRunSeq {
			return false
		}
		session.LastRunSeq = seq
		return true
	})
}

// Touch persists the session, creating it when absent.
func (s *SessionStateService) Touch(ctx context.Context, id domain.SessionID) error {
	return s.update(ctx, id, func(*domain.Session) bool { return true })
}

// Find returns the stored session. Unlike Snapshot it reports
// domain.ErrSessionNotFound for sessions that were never written.
func (s *SessionStateService) Find(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	if err := validateSessionID(id); err != nil {
		return domain.Session{}, err
	}

	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.Session{}, err
		}
		return domain.Session{}, fmt.Errorf("load session %s: %w", id, err)
	}

	return session.Clone(), nil
}

func (s *SessionStateService) Snapshot(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	return s.loadSession(ctx, id)
}

func (s *SessionStateService) List(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions, nil
}

func (s *SessionStateService) Remove(ctx context.Context, id domain.SessionID) error {
	if err := validateSessionID(id); err != nil {
		return err
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	return nil
}

// Expire removes every session idle for longer than ttl. A non-positive ttl
// expires nothing.
func (s *SessionStateService) Expire(ctx context.Context, ttl time.Duration) ([]domain.SessionID, error) {
	if ttl <= 0 {
		return nil, nil
	}

	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := s.clock.Now()
	removed := make([]domain.SessionID, 0)
	for _, session := range sessions {
		if !session.IsExpired(now, ttl) {
			continue
		}
		ok, err := s.removeIfExpired(ctx, session.ID, now, ttl)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, session.ID)
		}
	}

	return removed, nil
}

// removeIfExpired re-reads the session under its lock so a write that landed
// after the listing keeps it alive.
func (s *SessionStateService) removeIfExpired(ctx context.Context, id domain.SessionID, now time.Time, ttl time.Duration) (bool, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load session %s: %w", id, err)
	}
	if !current.IsExpired(now, ttl) {
		return false, nil
	}

	if err := s.sessions.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}

	return true, nil
}

func (s *SessionStateService) update(ctx context.Context, id domain.SessionID, mutate func(*domain.Session) bool) error {
	if err := validateSessionID(id); err != nil {
		return err
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.loadSession(ctx, id)
	if err != nil {
		return err
	}

	if !mutate(&session) {
		return nil
	}

	session.UpdatedAt = s.clock.Now()
	if err := s.sessions.Save(ctx, session); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}

	return nil
}

func (s *SessionStateService) loadSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	if err := validateSessionID(id); err != nil {
		return domain.Session{}, err
	}

	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return domain.Session{}, fmt.Errorf("load session %s: %w", id, err)
		}
		return domain.NewSession(id, s.clock.Now()), nil
	}

	return session.Clone(), nil
}

func (s *SessionStateService) lockFor(id domain.SessionID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func validateSessionID(id domain.SessionID) error {
	if strings.TrimSpace(string(id)) == "" {
		return domain.ErrEmptySessionID
	}
	return nil
}
