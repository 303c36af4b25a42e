// Package ids generates session identifiers.
package ids

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
	"github.com/oklog/ulid/v2"
)

// ULIDGenerator hands out lexicographically sortable session ids.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var _ ports.IDGenerator = (*ULIDGenerator)(nil)

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.DefaultEntropy(),
		now:     time.Now,
	}
}

// NewULIDGeneratorWithEntropy is for callers that need reproducible ids.
func NewULIDGeneratorWithEntropy(entropy io.Reader, now func() time.Time) *ULIDGenerator {
	if now == nil {
		now = time.Now
	}
	return &ULIDGenerator{entropy: entropy, now: now}
}

func (g *ULIDGenerator) NewSessionID() domain.SessionID {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return domain.SessionID(strings.ToLower(id.String()))
}
