package domain

import (
	"maps"
	"time"
)

type SessionID string

// Session is one user's interaction stream. Values is the state bag that
// survives reruns; Widgets holds the last value delivered for each control.
type Session struct {
	ID         SessionID
	Values     map[string]any
	Widgets    map[string]any
	LastRunSeq uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewSession(id SessionID, now time.Time) Session {
	return Session{
		ID:        id,
		Values:    map[string]any{},
		Widgets:   map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s Session) Value(key string) (any, bool) {
	if s.Values == nil {
		return nil, false
	}

	v, ok := s.Values[key]
	return v, ok
}

func (s Session) Widget(name string) (any, bool) {
	if s.Widgets == nil {
		return nil, false
	}

	v, ok := s.Widgets[name]
	return v, ok
}

// Clone copies the bag and widget maps. Values themselves are not deep-copied.
func (s Session) Clone() Session {
	out := s
	out.Values = maps.Clone(s.Values)
	out.Widgets = maps.Clone(s.Widgets)
	if out.Values == nil {
		out.Values = map[string]any{}
	}
	if out.Widgets == nil {
		out.Widgets = map[string]any{}
	}

	return out
}

func (s Session) IsExpired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}

	last := s.UpdatedAt
	if last.IsZero() {
		last = s.CreatedAt
	}
	if last.IsZero() {
		return true
	}

	return now.Sub(last) > ttl
}
