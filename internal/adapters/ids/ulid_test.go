package ids

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDGeneratorProducesUniqueSortableIDs(t *testing.T) {
	t.Parallel()

	gen := NewULIDGenerator()

	ids := make([]domain.SessionID, 0, 100)
	seen := map[domain.SessionID]bool{}
	for i := 0; i < 100; i++ {
		id := gen.NewSessionID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		ids = append(ids, id)
	}

	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
	_, err := ulid.ParseStrict(string(ids[0]))
	require.NoError(t, err)
}

func TestULIDGeneratorWithEntropyIsReproducible(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return at }

	a := NewULIDGeneratorWithEntropy(rand.New(rand.NewSource(1)), now)
	b := NewULIDGeneratorWithEntropy(rand.New(rand.NewSource(1)), now)

	assert.Equal(t, a.NewSessionID(), b.NewSessionID())
	assert.Len(t, string(a.NewSessionID()), 26)
}
