package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrEmptySessionID   = errors.New("session id is empty")
	ErrInvalidCacheMode = errors.New("invalid cache mode")
	ErrEmptyIdentity    = errors.New("memo identity is empty")
	ErrRerunRequested   = errors.New("rerun requested")
	ErrRunAbandoned     = errors.New("run abandoned")
	ErrRerunLimit       = errors.New("rerun limit exceeded")
	ErrLossySnapshot    = errors.New("value does not survive a JSON snapshot")
)
