package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoSingleFlightProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent misses on one key compute once", prop.ForAll(
		func(callers int) bool {
			store := NewMemoStore()
			release := make(chan struct{})
			var calls atomic.Int64

			compute := func(context.Context) (any, error) {
				calls.Add(1)
				<-release
				return "loaded", nil
			}

			results := make([]any, callers)
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = store.GetOrCompute(context.Background(), "load", []any{"x"}, domain.CacheModeResource, compute)
				}(i)
			}

			waitFor(func() bool { return store.Stats().Misses == int64(callers) })
			close(release)
			wg.Wait()

			if calls.Load() != 1 {
				return false
			}
			for i := range results {
				if errs[i] != nil || results[i] != "loaded" {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 32),
	))

	properties.TestingRun(t)
}

func TestMemoCacheCorrectnessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated calls with equal args hit the cache", prop.ForAll(
		func(identity string, arg int, data bool) bool {
			if identity == "" {
				identity = "fn"
			}
			mode := domain.CacheModeResource
			if data {
				mode = domain.CacheModeData
			}

			store := NewMemoStore()
			calls := 0
			compute := func(context.Context) (any, error) {
				calls++
				return arg * 2, nil
			}

			first, err := store.GetOrCompute(context.Background(), identity, []any{arg}, mode, compute)
			if err != nil {
				return false
			}
			second, err := store.GetOrCompute(context.Background(), identity, []any{arg}, mode, compute)
			if err != nil {
				return false
			}

			return calls == 1 && first == arg*2 && second == first
		},
		gen.AlphaString(),
		gen.Int(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestMemoResourceSharingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("resource mode hands every caller the same instance", prop.ForAll(
		func(factor int) bool {
			store := NewMemoStore()
			build := func(context.Context) (*testModel, error) {
				return &testModel{factor: factor}, nil
			}

			fromA, errA := CacheResource(context.Background(), store, "model", nil, build)
			fromB, errB := CacheResource(context.Background(), store, "model", nil, build)

			return errA == nil && errB == nil && fromA == fromB && fromA.factor == factor
		},
		gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}

func TestMemoFailureNonPoisoningProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a failed computation is retried on the next call", prop.ForAll(
		func(failures int) bool {
			store := NewMemoStore()
			calls := 0
			compute := func(context.Context) (any, error) {
				calls++
				if calls <= failures {
					return nil, errors.New("boom")
				}
				return "ok", nil
			}

			for i := 0; i < failures; i++ {
				if _, err := store.GetOrCompute(context.Background(), "flaky", nil, domain.CacheModeData, compute); err == nil {
					return false
				}
				if store.Stats().Entries != 0 {
					return false
				}
			}

			value, err := store.GetOrCompute(context.Background(), "flaky", nil, domain.CacheModeData, compute)
			return err == nil && value == "ok" && calls == failures+1
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestMemoKeyForSeparatesModesAndArgs(t *testing.T) {
	t.Parallel()

	data, err := MemoKeyFor(domain.CacheModeData, "load", []any{1})
	require.NoError(t, err)
	resource, err := MemoKeyFor(domain.CacheModeResource, "load", []any{1})
	require.NoError(t, err)
	otherArgs, err := MemoKeyFor(domain.CacheModeData, "load", []any{2})
	require.NoError(t, err)
	again, err := MemoKeyFor(domain.CacheModeData, "load", []any{1})
	require.NoError(t, err)

	assert.NotEqual(t, data, resource)
	assert.NotEqual(t, data, otherArgs)
	assert.Equal(t, data, again)
	assert.Len(t, string(data), 64)

	nilArgs, err := MemoKeyFor(domain.CacheModeData, "load", nil)
	require.NoError(t, err)
	emptyArgs, err := MemoKeyFor(domain.CacheModeData, "load", []any{})
	require.NoError(t, err)
	assert.Equal(t, nilArgs, emptyArgs)
}

func TestMemoKeyForValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mode     domain.CacheMode
		identity string
		args     []any
		wantErr  error
	}{
		{name: "invalid mode", mode: "copy", identity: "fn", wantErr: domain.ErrInvalidCacheMode},
		{name: "empty identity", mode: domain.CacheModeData, identity: "  ", wantErr: domain.ErrEmptyIdentity},
		{name: "unencodable args", mode: domain.CacheModeData, identity: "fn", args: []any{make(chan int)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := MemoKeyFor(tt.mode, tt.identity, tt.args)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCacheDataReturnsIndependentCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	calls := 0
	load := func(context.Context) ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}

	first, err := CacheData(context.Background(), store, "rows", nil, load)
	require.NoError(t, err)
	first[0] = 99

	second, err := CacheData(context.Background(), store, "rows", nil, load)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, second)
	assert.Equal(t, 1, calls)
}

func TestCacheDataRejectsValuesLostBySnapshot(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	_, err := CacheData(context.Background(), store, "model", nil, func(context.Context) (testModel, error) {
		return testModel{factor: 2}, nil
	})
	require.ErrorIs(t, err, domain.ErrLossySnapshot)
	assert.Empty(t, store.Entries())

	_, err = CacheData(context.Background(), store, "loose", nil, func(context.Context) (any, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, domain.ErrLossySnapshot)
}

func TestCacheDataClonesClonerValues(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	calls := 0
	load := func(context.Context) (*cloneableRows, error) {
		calls++
		return &cloneableRows{rows: []string{"a", "b"}}, nil
	}

	first, err := CacheData(context.Background(), store, "rows", nil, load)
	require.NoError(t, err)
	first.rows[0] = "changed"

	second, err := CacheData(context.Background(), store, "rows", nil, load)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, []string{"a", "b"}, second.rows)
	assert.Equal(t, 1, calls)
}

func TestMemoDataModeUsesCloner(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	compute := func(context.Context) (any, error) {
		return &cloneableRows{rows: []string{"a"}}, nil
	}

	first, err := store.GetOrCompute(context.Background(), "rows", nil, domain.CacheModeData, compute)
	require.NoError(t, err)
	second, err := store.GetOrCompute(context.Background(), "rows", nil, domain.CacheModeData, compute)
	require.NoError(t, err)

	a := first.(*cloneableRows)
	b := second.(*cloneableRows)
	assert.NotSame(t, a, b)
	a.rows[0] = "changed"
	assert.Equal(t, "a", b.rows[0])
}

func TestCacheResourceTypeMismatch(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	_, err := store.GetOrCompute(context.Background(), "model", nil, domain.CacheModeResource, func(context.Context) (any, error) {
		return "not a model", nil
	})
	require.NoError(t, err)

	_, err = CacheResource(context.Background(), store, "model", nil, func(context.Context) (*testModel, error) {
		return &testModel{}, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected resource type")
}

func TestMemoFailurePropagatesWrapped(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	boom := errors.New("boom")

	_, err := CacheData(context.Background(), store, "load", []any{1}, func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "compute load")

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, 0, stats.Entries)
}

func TestMemoPanicIsCapturedAndNotCached(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	_, err := store.GetOrCompute(context.Background(), "explode", nil, domain.CacheModeResource, func(context.Context) (any, error) {
		panic("kaboom")
	})

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Empty(t, store.Entries())

	_, err = store.GetOrCompute(context.Background(), "explode", nil, domain.CacheModeResource, nil)
	require.Error(t, err)
}

func TestMemoTTLExpiresEntries(t *testing.T) {
	t.Parallel()

	clock := &steppingClock{now: testNow}
	store := NewMemoStore(WithMemoTTL(time.Minute), WithMemoClock(clock))
	calls := 0
	compute := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}

	value, err := store.GetOrCompute(context.Background(), "tick", nil, domain.CacheModeData, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, value)

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, testNow.Add(time.Minute), entries[0].ExpiresAt)

	clock.Advance(30 * time.Second)
	value, err = store.GetOrCompute(context.Background(), "tick", nil, domain.CacheModeData, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, value)

	clock.Advance(30 * time.Second)
	value, err = store.GetOrCompute(context.Background(), "tick", nil, domain.CacheModeData, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
}

func TestMemoInvalidation(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, err := store.GetOrCompute(ctx, "load", []any{1}, domain.CacheModeData, compute)
	require.NoError(t, err)
	_, err = store.GetOrCompute(ctx, "load", []any{2}, domain.CacheModeData, compute)
	require.NoError(t, err)
	_, err = store.GetOrCompute(ctx, "other", nil, domain.CacheModeResource, compute)
	require.NoError(t, err)
	require.Len(t, store.Entries(), 3)

	key, err := MemoKeyFor(domain.CacheModeData, "load", []any{1})
	require.NoError(t, err)
	assert.True(t, store.Invalidate(key))
	assert.False(t, store.Invalidate(key))

	value, err := store.GetOrCompute(ctx, "load", []any{1}, domain.CacheModeData, compute)
	require.NoError(t, err)
	assert.Equal(t, 4, value)

	assert.Equal(t, 2, store.InvalidateIdentity("load"))
	require.Len(t, store.Entries(), 1)
	assert.Equal(t, "other", store.Entries()[0].Identity)

	store.Clear()
	assert.Empty(t, store.Entries())
}

func TestMemoInvalidateDuringComputationDropsResult(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int64
	compute := func(context.Context) (any, error) {
		n := calls.Add(1)
		if n == 1 {
			started <- struct{}{}
			<-release
		}
		return n, nil
	}

	first := make(chan any, 1)
	go func() {
		value, _ := store.GetOrCompute(context.Background(), "load", nil, domain.CacheModeData, compute)
		first <- value
	}()
	<-started

	key, err := MemoKeyFor(domain.CacheModeData, "load", nil)
	require.NoError(t, err)
	assert.True(t, store.Invalidate(key))

	close(release)
	assert.Equal(t, int64(1), <-first)
	assert.Empty(t, store.Entries())

	value, err := store.GetOrCompute(context.Background(), "load", nil, domain.CacheModeData, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)
	assert.Equal(t, int64(2), calls.Load())
}

func TestMemoInvalidateIdentityAndClearDuringComputation(t *testing.T) {
	t.Parallel()

	for _, drop := range []func(*MemoStore){
		func(s *MemoStore) { assert.Equal(t, 1, s.InvalidateIdentity("load")) },
		func(s *MemoStore) { s.Clear() },
	} {
		store := NewMemoStore()
		release := make(chan struct{})
		started := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = store.GetOrCompute(context.Background(), "load", []any{1}, domain.CacheModeResource, func(context.Context) (any, error) {
				close(started)
				<-release
				return "stale", nil
			})
		}()
		<-started

		drop(store)
		close(release)
		<-done

		assert.Empty(t, store.Entries())
	}
}

func TestMemoWaiterCancellationDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	release := make(chan struct{})
	started := make(chan struct{})
	compute := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return "done", nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := store.GetOrCompute(leaderCtx, "slow", nil, domain.CacheModeResource, compute)
		leaderErr <- err
	}()
	<-started

	followerResult := make(chan any, 1)
	go func() {
		value, _ := store.GetOrCompute(context.Background(), "slow", nil, domain.CacheModeResource, compute)
		followerResult <- value
	}()
	waitFor(func() bool { return store.Stats().Misses == 2 })

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	assert.Equal(t, "done", <-followerResult)
	assert.Equal(t, int64(1), store.Stats().Computations)
}

func TestMemoStatsCountHitsAndMisses(t *testing.T) {
	t.Parallel()

	store := NewMemoStore()
	compute := func(context.Context) (any, error) { return 1, nil }

	for i := 0; i < 3; i++ {
		_, err := store.GetOrCompute(context.Background(), "load", nil, domain.CacheModeData, compute)
		require.NoError(t, err)
	}

	assert.Equal(t, MemoStats{Hits: 2, Misses: 1, Computations: 1, Entries: 1}, store.Stats())
}

type testModel struct {
	factor int
}

type cloneableRows struct {
	rows []string
}

func (c *cloneableRows) Clone() any {
	return &cloneableRows{rows: append([]string(nil), c.rows...)}
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitFor(cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}
