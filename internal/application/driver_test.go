package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterPage(ctx context.Context, p *PageContext) error {
	if _, ok, err := p.State().Get("counter"); err != nil {
		return err
	} else if !ok {
		p.Caption("fresh session")
	}

	current, err := p.State().EnsureDefault("counter", 0)
	if err != nil {
		return err
	}
	counter := current.(int)

	if p.Clicked("increment") {
		if err := p.State().Set("counter", counter+1); err != nil {
			return err
		}
		return p.Rerun()
	}

	p.Textf("Counter: %d", counter)
	return nil
}

func TestDriverCounterScenarioAcrossSessions(t *testing.T) {
	t.Parallel()

	state := NewSessionStateService(newInMemorySessionRepo(), fixedClock{now: testNow})
	presenter := &recordingPresenter{}
	driver := NewDriver(counterPage, state, nil, presenter, WithDriverClock(fixedClock{now: testNow}))
	ctx := context.Background()

	result, err := driver.Dispatch(ctx, "S", domain.RerunEvent())
	require.NoError(t, err)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, domain.RunCompleted, result.Runs[0].Status)
	assert.Equal(t, uint64(1), result.Runs[0].Seq)

	counter, ok, err := state.Get(ctx, "S", "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, counter)

	result, err = driver.Dispatch(ctx, "S", domain.ClickEvent("increment"))
	require.NoError(t, err)
	require.Len(t, result.Runs, 2)
	assert.Equal(t, domain.RunAbandoned, result.Runs[0].Status)
	assert.Equal(t, domain.EventClick, result.Runs[0].Trigger.Kind)
	assert.Equal(t, domain.RunCompleted, result.Runs[1].Status)
	assert.Equal(t, domain.EventRerun, result.Runs[1].Trigger.Kind)
	assert.Equal(t, uint64(3), result.Runs[1].Seq)

	counter, _, err = state.Get(ctx, "S", "counter")
	require.NoError(t, err)
	assert.Equal(t, 1, counter)

	result, err = driver.Dispatch(ctx, "T", domain.RerunEvent())
	require.NoError(t, err)
	last, ok := result.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(1), last.Seq)

	frames := presenter.Frames()
	require.Len(t, frames, 3)
	assert.Equal(t, "Counter: 0", frames[0].Elements[1].Text)
	assert.Equal(t, "Counter: 1", frames[1].Elements[0].Text)
	assert.Equal(t, domain.SessionID("T"), frames[2].SessionID)
	assert.Equal(t, "fresh session", frames[2].Elements[0].Text)
	assert.Equal(t, "Counter: 0", frames[2].Elements[1].Text)

	stats := driver.Stats()
	assert.Equal(t, int64(3), stats.Completed)
	assert.Equal(t, int64(1), stats.Abandoned)
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 0, stats.Running)
}

func TestDriverFailureKeepsStateAndReturnsToIdle(t *testing.T) {
	t.Parallel()

	state := NewSessionStateService(newInMemorySessionRepo(), fixedClock{now: testNow})
	presenter := &recordingPresenter{}
	boom := errors.New("division by zero")
	page := func(ctx context.Context, p *PageContext) error {
		if err := p.State().Set("reached", true); err != nil {
			return err
		}
		p.Text("before failure")
		return boom
	}
	driver := NewDriver(page, state, nil, presenter)

	result, err := driver.Dispatch(context.Background(), "s-1", domain.RerunEvent())
	require.NoError(t, err)
	last, _ := result.Last()
	assert.Equal(t, domain.RunFailed, last.Status)
	assert.Equal(t, "division by zero", last.Err)
	assert.Equal(t, domain.DriverIdle, driver.State("s-1"))

	reached, ok, err := state.Get(context.Background(), "s-1", "reached")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, reached)

	frames := presenter.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, domain.RunFailed, frames[0].Status)
	assert.Equal(t, "division by zero", frames[0].Err)
	assert.Equal(t, "before failure", frames[0].Elements[0].Text)

	result, err = driver.Dispatch(context.Background(), "s-1", domain.RerunEvent())
	require.NoError(t, err)
	last, _ = result.Last()
	assert.Equal(t, uint64(2), last.Seq)
	assert.Equal(t, int64(2), driver.Stats().Failed)
}

func TestDriverCapturesPanics(t *testing.T) {
	t.Parallel()

	state := NewSessionStateService(newInMemorySessionRepo(), nil)
	page := func(ctx context.Context, p *PageContext) error {
		var m map[string]int
		m["boom"] = 1
		return nil
	}
	driver := NewDriver(page, state, nil, nil)

	result, err := driver.Dispatch(context.Background(), "s-1", domain.RerunEvent())
	require.NoError(t, err)
	last, _ := result.Last()
	assert.Equal(t, domain.RunFailed, last.Status)
	assert.Contains(t, last.Err, "panic")
	assert.Equal(t, domain.DriverIdle, driver.State("s-1"))
}

func TestDriverRerunLimit(t *testing.T) {
	t.Parallel()

	state := NewSessionStateService(newInMemorySessionRepo(), nil)
	page := func(ctx context.Context, p *PageContext) error {
		return p.Rerun()
	}
	driver := NewDriver(page, state, nil, nil, WithMaxReruns(3))

	result, err := driver.Dispatch(context.Background(), "s-1", domain.RerunEvent())
	require.NoError(t, err)
	require.Len(t, result.Runs, 4)
	for _, run := range result.Runs[:3] {
		assert.Equal(t, domain.RunAbandoned, run.Status)
	}
	last, _ := result.Last()
	assert.Equal(t, domain.RunFailed, last.Status)
	assert.Contains(t, last.Err, domain.ErrRerunLimit.Error())
}

func TestDriverCoalescesEventsWhileRunning(t *testing.T) {
	t.Parallel()

	state := NewSessionStateService(newInMemorySessionRepo(), nil)
	presenter := &recordingPresenter{}
	page := func(ctx context.Context, p *PageContext) error {
		if p.Clicked("slow") {
			<-ctx.Done()
			return p.Checkpoint()
		}
		p.Textf("hello %v", p.Input("name", "stranger"))
		return nil
	}
	driver := NewDriver(page, state, nil, presenter)
	ctx := context.Background()

	done := make(chan DispatchResult, 1)
	go func() {
		result, _ := driver.Dispatch(ctx, "s-1", domain.ClickEvent("slow"))
		done <- result
	}()
	waitFor(func() bool { return driver.State("s-1") == domain.DriverRunning })

	coalesced, err := driver.Dispatch(ctx, "s-1", domain.InputEvent("name", "ada"))
	require.NoError(t, err)
	assert.True(t, coalesced.Coalesced)
	assert.Empty(t, coalesced.Runs)

	result := <-done
	require.Len(t, result.Runs, 2)
	assert.Equal(t, domain.RunAbandoned, result.Runs[0].Status)
	assert.Equal(t, domain.RunCompleted, result.Runs[1].Status)
	assert.Equal(t, domain.EventInput, result.Runs[1].Trigger.Kind)

	frames := presenter.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(2), frames[0].Seq)
	assert.Equal(t, "hello ada", frames[0].Elements[0].Text)
}

func TestDriverContinuesPersistedSequence(t *testing.T) {
	t.Parallel()

	repo := newInMemorySessionRepo()
	page := func(ctx context.Context, p *PageContext) error { return nil }

	first := NewDriver(page, NewSessionStateService(repo, nil), nil, nil)
	_, err := first.Dispatch(context.Background(), "s-1", domain.RerunEvent())
	require.NoError(t, err)
	_, err = first.Dispatch(context.Background(), "s-1", domain.RerunEvent())
	require.NoError(t, err)

	second := NewDriver(page, NewSessionStateService(repo, nil), nil, nil)
	result, err := second.Dispatch(context.Background(), "s-1", domain.RerunEvent())
	require.NoError(t, err)
	last, _ := result.Last()
	assert.Equal(t, uint64(3), last.Seq)
}

func TestDriverSharesMemoAcrossSessions(t *testing.T) {
	t.Parallel()

	state := NewSessionStateService(newInMemorySessionRepo(), nil)
	memo := NewMemoStore()
	seen := make(chan *testModel, 2)
	page := func(ctx context.Context, p *PageContext) error {
		model, err := CacheResource(ctx, p.Memo(), "model", nil, func(context.Context) (*testModel, error) {
			return &testModel{factor: 2}, nil
		})
		if err != nil {
			return err
		}
		seen <- model
		return nil
	}
	driver := NewDriver(page, state, memo, nil)

	_, err := driver.Dispatch(context.Background(), "a", domain.RerunEvent())
	require.NoError(t, err)
	_, err = driver.Dispatch(context.Background(), "b", domain.RerunEvent())
	require.NoError(t, err)

	assert.Same(t, <-seen, <-seen)
	assert.Same(t, memo, driver.Memo())
	assert.Equal(t, int64(1), memo.Stats().Computations)
}

func TestDriverDispatchErrors(t *testing.T) {
	t.Parallel()

	state := NewSessionStateService(newInMemorySessionRepo(), nil)
	driver := NewDriver(func(context.Context, *PageContext) error { return nil }, state, nil, nil)

	_, err := driver.Dispatch(context.Background(), "", domain.RerunEvent())
	require.ErrorIs(t, err, domain.ErrEmptySessionID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = driver.Dispatch(ctx, "s-1", domain.RerunEvent())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.DriverIdle, driver.State("s-1"))
}

func TestDriverPresenterErrorSurfaces(t *testing.T) {
	t.Parallel()

	state := NewSessionStateService(newInMemorySessionRepo(), nil)
	presentErr := errors.New("terminal closed")
	presenter := ports.PresenterFunc(func(context.Context, domain.Frame) error { return presentErr })
	driver := NewDriver(func(context.Context, *PageContext) error { return nil }, state, nil, presenter)

	_, err := driver.Dispatch(context.Background(), "s-1", domain.RerunEvent())
	require.ErrorIs(t, err, presentErr)
	assert.Equal(t, domain.DriverIdle, driver.State("s-1"))
}

type recordingPresenter struct {
	mu     sync.Mutex
	frames []domain.Frame
}

func (r *recordingPresenter) Present(_ context.Context, frame domain.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingPresenter) Frames() []domain.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Frame(nil), r.frames...)
}
