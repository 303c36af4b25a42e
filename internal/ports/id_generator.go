package ports

import "github.com/bnema/pagerun/internal/domain"

type IDGenerator interface {
	NewSessionID() domain.SessionID
}
