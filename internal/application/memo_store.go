package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a memo key on a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Cloner lets data-mode values hand out independent copies.
type Cloner interface {
	Clone() any
}

// MemoStats is a point-in-time view of the store counters.
type MemoStats struct {
	Hits         int64
	Misses       int64
	Computations int64
	Failures     int64
	Entries      int
}

type memoEntry struct {
	meta  domain.MemoEntry
	value any
}

// inflight tracks running computations for a key. Invalidating the key bumps
// gen, and a computation that started under an older gen does not store.
type inflight struct {
	identity string
	running  int
	gen      uint64
}

// MemoStore is the process-wide memoization cache. It is safe for concurrent
// use; hits take only the read lock and concurrent misses on one key share a
// single computation.
type MemoStore struct {
	mu      sync.RWMutex
	entries map[domain.MemoKey]*memoEntry
	pending map[domain.MemoKey]*inflight
	flight  singleflight.Group
	clock   ports.Clock
	ttl     time.Duration
	logger  *slog.Logger

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	failures     atomic.Int64
}

type MemoOption func(*MemoStore)

// WithMemoTTL expires entries ttl after they were computed. Zero keeps them
// for the life of the process.
func WithMemoTTL(ttl time.Duration) MemoOption {
	return func(s *MemoStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMemoClock(clock ports.Clock) MemoOption {
	return func(s *MemoStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithMemoLogger(logger *slog.Logger) MemoOption {
	return func(s *MemoStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewMemoStore(opts ...MemoOption) *MemoStore {
	s := &MemoStore{
		entries: make(map[domain.MemoKey]*memoEntry),
		pending: make(map[domain.MemoKey]*inflight),
		clock:   ports.SystemClock{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// MemoKeyFor derives the cache key from the mode, the computation identity and
// the JSON encoding of args.
func MemoKeyFor(mode domain.CacheMode, identity string, args []any) (domain.MemoKey, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidCacheMode, mode)
	}
	if strings.TrimSpace(identity) == "" {
		return "", domain.ErrEmptyIdentity
	}
	if args == nil {
		args = []any{}
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode memo args for %s: %w", identity, err)
	}

	h := sha256.New()
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(identity))
	h.Write([]byte{0})
	h.Write(encoded)

	return domain.MemoKey(hex.EncodeToString(h.Sum(nil))), nil
}

// GetOrCompute returns the cached value for (mode, identity, args), running
// compute on a miss. Failures are returned to every waiter and never cached.
func (s *MemoStore) GetOrCompute(ctx context.Context, identity string, args []any, mode domain.CacheMode, compute ComputeFunc) (any, error) {
	key, err := MemoKeyFor(mode, identity, args)
	if err != nil {
		return nil, err
	}

	if value, ok := s.lookup(key); ok {
		s.hits.Add(1)
		return handOut(mode, value), nil
	}
	s.misses.Add(1)

	ch := s.flight.DoChan(string(key), func() (any, error) {
		// A waiter that lost the race against a finished flight lands here.
		if value, ok := s.lookup(key); ok {
			return value, nil
		}
		return s.computeAndStore(context.WithoutCancel(ctx), key, identity, mode, compute)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return handOut(mode, res.Val), nil
	}
}

func (s *MemoStore) computeAndStore(ctx context.Context, key domain.MemoKey, identity string, mode domain.CacheMode, compute ComputeFunc) (any, error) {
	s.computations.Add(1)
	started := s.clock.Now()
	gen := s.beginCompute(key, identity)

	value, err := safeCompute(ctx, compute)
	if err != nil {
		s.endCompute(key)
		s.failures.Add(1)
		s.logger.Debug("memo compute failed",
			slog.String("identity", identity),
			slog.String("key", key.Short()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("compute %s: %w", identity, err)
	}

	now := s.clock.Now()
	entry := &memoEntry{
		meta: domain.MemoEntry{
			Key:       key,
			Identity:  identity,
			Mode:      mode,
			CreatedAt: now,
		},
		value: value,
	}
	if s.ttl > 0 {
		entry.meta.ExpiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	stale := s.pending[key].gen != gen
	if !stale {
		s.entries[key] = entry
	}
	s.endComputeLocked(key)
	s.mu.Unlock()

	s.logger.Debug("memo computed",
		slog.String("identity", identity),
		slog.String("mode", string(mode)),
		slog.String("key", key.Short()),
		slog.Bool("stored", !stale),
		slog.Duration("took", now.Sub(started)),
	)

	return value, nil
}

func (s *MemoStore) beginCompute(key domain.MemoKey, identity string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[key]
	if !ok {
		p = &inflight{identity: identity}
		s.pending[key] = p
	}
	p.running++
	return p.gen
}

func (s *MemoStore) endCompute(key domain.MemoKey) {
	s.mu.Lock()
	s.endComputeLocked(key)
	s.mu.Unlock()
}

func (s *MemoStore) endComputeLocked(key domain.MemoKey) {
	p := s.pending[key]
	p.running--
	if p.running == 0 {
		delete(s.pending, key)
	}
}

// discardLocked drops the entry for key and orphans any running computation
// so its result is not stored. It reports whether there was anything to drop.
func (s *MemoStore) discardLocked(key domain.MemoKey) bool {
	_, had := s.entries[key]
	delete(s.entries, key)

	p, running := s.pending[key]
	if running {
		p.gen++
	}
	return had || running
}

func (s *MemoStore) lookup(key domain.MemoKey) (any, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if entry.meta.IsExpired(s.clock.Now()) {
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && current == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Invalidate drops one entry. A computation still running for key is
// detached: its waiters get its result, but it is not stored and later
// callers compute afresh. It reports whether anything was dropped.
func (s *MemoStore) Invalidate(key domain.MemoKey) bool {
	s.mu.Lock()
	dropped := s.discardLocked(key)
	s.mu.Unlock()

	s.flight.Forget(string(key))
	return dropped
}

// InvalidateIdentity drops every entry computed for identity, whatever the
// args, along with computations still running for it.
func (s *MemoStore) InvalidateIdentity(identity string) int {
	s.mu.Lock()
	keys := make([]domain.MemoKey, 0)
	for key, entry := range s.entries {
		if entry.meta.Identity == identity {
			keys = append(keys, key)
		}
	}
	for key, p := range s.pending {
		if _, ok := s.entries[key]; !ok && p.identity == identity {
			keys = append(keys, key)
		}
	}

	removed := 0
	for _, key := range keys {
		if s.discardLocked(key) {
			removed++
		}
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.flight.Forget(string(key))
	}
	return removed
}

func (s *MemoStore) Clear() {
	s.mu.Lock()
	s.entries = make(map[domain.MemoKey]*memoEntry)
	keys := make([]domain.MemoKey, 0, len(s.pending))
	for key, p := range s.pending {
		p.gen++
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.flight.Forget(string(key))
	}
}

func (s *MemoStore) Entries() []domain.MemoEntry {
	s.mu.RLock()
	entries := make([]domain.MemoEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry.meta)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Identity == entries[j].Identity {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Identity < entries[j].Identity
	})

	return entries
}

func (s *MemoStore) Stats() MemoStats {
	s.mu.RLock()
	count := len(s.entries)
	s.mu.RUnlock()

	return MemoStats{
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Computations: s.computations.Load(),
		Failures:     s.failures.Load(),
		Entries:      count,
	}
}

// CacheData memoizes compute in data mode and hands every caller its own
// copy. A T implementing Cloner is copied with Clone; any other T is kept as a
// JSON snapshot and decoded afresh for each caller. Values that do not survive
// the snapshot unchanged fail with domain.ErrLossySnapshot and are not cached.
func CacheData[T any](ctx context.Context, s *MemoStore, identity string, args []any, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if reflect.TypeFor[T]().Implements(reflect.TypeFor[Cloner]()) {
		raw, err := s.GetOrCompute(ctx, identity, args, domain.CacheModeData, func(ctx context.Context) (any, error) {
			return compute(ctx)
		})
		if err != nil {
			return zero, err
		}
		value, ok := raw.(T)
		if !ok {
			return zero, fmt.Errorf("memo %s: unexpected data entry type %T", identity, raw)
		}
		return value, nil
	}

	raw, err := s.GetOrCompute(ctx, identity, args, domain.CacheModeData, func(ctx context.Context) (any, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return snapshotOf(value)
	})
	if err != nil {
		return zero, err
	}

	snapshot, ok := raw.(dataSnapshot)
	if !ok {
		return zero, fmt.Errorf("memo %s: unexpected data entry type %T", identity, raw)
	}

	var out T
	if err := json.Unmarshal(snapshot, &out); err != nil {
		return zero, fmt.Errorf("decode snapshot for %s: %w", identity, err)
	}

	return out, nil
}

// snapshotOf encodes value and checks that decoding gives it back.
func snapshotOf[T any](value T) (dataSnapshot, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	var decoded T
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if !reflect.DeepEqual(value, decoded) {
		return nil, fmt.Errorf("%w: %T", domain.ErrLossySnapshot, value)
	}

	return dataSnapshot(encoded), nil
}

// CacheResource memoizes compute in resource mode. Every caller, in every
// session, receives the same T.
func CacheResource[T any](ctx context.Context, s *MemoStore, identity string, args []any, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raw, err := s.GetOrCompute(ctx, identity, args, domain.CacheModeResource, func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	if err != nil {
		return zero, err
	}

	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("memo %s: unexpected resource type %T", identity, raw)
	}

	return value, nil
}

type dataSnapshot []byte

func handOut(mode domain.CacheMode, value any) any {
	if mode != domain.CacheModeData {
		return value
	}
	if c, ok := value.(Cloner); ok {
		return c.Clone()
	}
	return value
}

// PanicError is returned when a computation panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func safeCompute(ctx context.Context, compute ComputeFunc) (value any, err error) {
	if compute == nil {
		return nil, errors.New("compute function is nil")
	}

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	return compute(ctx)
}
