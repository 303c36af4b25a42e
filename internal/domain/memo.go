package domain

import "time"

type CacheMode string

const (
	// CacheModeData entries are snapshots; every caller gets its own copy.
	CacheModeData CacheMode = "data"
	// CacheModeResource entries are shared singletons handed to every session.
	CacheModeResource CacheMode = "resource"
)

func (m CacheMode) Valid() bool {
	switch m {
	case CacheModeData, CacheModeResource:
		return true
	default:
		return false
	}
}

type MemoKey string

func (k MemoKey) Short() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}

type MemoEntry struct {
	Key       MemoKey
	Identity  string
	Mode      CacheMode
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e MemoEntry) IsExpired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(e.ExpiresAt)
}
