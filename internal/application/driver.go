package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
)

const DefaultMaxReruns = 100

// PageFunc is the page logic executed top to bottom on every Run.
type PageFunc func(ctx context.Context, page *PageContext) error

// DispatchResult lists the Runs a Dispatch call drove. Coalesced is set when
// the event was handed to a Run already in progress for the session.
type DispatchResult struct {
	Runs      []domain.Run
	Coalesced bool
}

func (r DispatchResult) Last() (domain.Run, bool) {
	if len(r.Runs) == 0 {
		return domain.Run{}, false
	}
	return r.Runs[len(r.Runs)-1], true
}

type DriverStats struct {
	Completed int64
	Abandoned int64
	Failed    int64
	Sessions  int
	Running   int
}

type sessionRunner struct {
	mu      sync.Mutex
	state   domain.DriverState
	seq     uint64
	loaded  bool
	pending *domain.Event
	cancel  context.CancelFunc
}

// Driver re-executes the page for a session whenever an event arrives. Runs
// of one session are strictly sequential; different sessions run
// independently.
type Driver struct {
	page      PageFunc
	state     *SessionStateService
	memo      *MemoStore
	presenter ports.Presenter
	clock     ports.Clock
	logger    *slog.Logger
	maxReruns int

	mu       sync.Mutex
	sessions map[domain.SessionID]*sessionRunner

	completed atomic.Int64
	abandoned atomic.Int64
	failed    atomic.Int64
}

type DriverOption func(*Driver)

func WithMaxReruns(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.maxReruns = n
		}
	}
}

func WithDriverClock(clock ports.Clock) DriverOption {
	return func(d *Driver) {
		if clock != nil {
			d.clock = clock
		}
	}
}

func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDriver(page PageFunc, state *SessionStateService, memo *MemoStore, presenter ports.Presenter, opts ...DriverOption) *Driver {
	if memo == nil {
		memo = NewMemoStore()
	}
	if presenter == nil {
		presenter = ports.PresenterFunc(func(context.Context, domain.Frame) error { return nil })
	}

	d := &Driver{
		page:      page,
		state:     state,
		memo:      memo,
		presenter: presenter,
		clock:     ports.SystemClock{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxReruns: DefaultMaxReruns,
		sessions:  map[domain.SessionID]*sessionRunner{},
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Driver) Memo() *MemoStore {
	return d.memo
}

func (d *Driver) State(id domain.SessionID) domain.DriverState {
	d.mu.Lock()
	runner, ok := d.sessions[id]
	d.mu.Unlock()
	if !ok {
		return domain.DriverIdle
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	return runner.state
}

func (d *Driver) Stats() DriverStats {
	stats := DriverStats{
		Completed: d.completed.Load(),
		Abandoned: d.abandoned.Load(),
		Failed:    d.failed.Load(),
	}

	d.mu.Lock()
	runners := make([]*sessionRunner, 0, len(d.sessions))
	for _, runner := range d.sessions {
		runners = append(runners, runner)
	}
	d.mu.Unlock()

	stats.Sessions = len(runners)
	for _, runner := range runners {
		runner.mu.Lock()
		if runner.state == domain.DriverRunning {
			stats.Running++
		}
		runner.mu.Unlock()
	}

	return stats
}

// Dispatch delivers one event for a session. An idle session starts a Run on
// the calling goroutine and keeps running until no rerun or pending event is
// left. A session that is already running records the event as pending,
// cancels the current Run and returns immediately.
func (d *Driver) Dispatch(ctx context.Context, id domain.SessionID, event domain.Event) (DispatchResult, error) {
	if err := validateSessionID(id); err != nil {
		return DispatchResult{}, err
	}

	if event.Kind == domain.EventInput {
		if err := d.state.SetWidget(ctx, id, event.Widget, event.Value); err != nil {
			return DispatchResult{}, fmt.Errorf("apply input %s: %w", event.Widget, err)
		}
	}

	runner := d.runnerFor(id)

	runner.mu.Lock()
	if runner.state == domain.DriverRunning {
		pending := event
		runner.pending = &pending
		if runner.cancel != nil {
			runner.cancel()
		}
		runner.mu.Unlock()

		d.logger.Debug("event coalesced into running session",
			slog.String("session", string(id)),
			slog.String("kind", string(event.Kind)),
		)
		return DispatchResult{Coalesced: true}, nil
	}

	if !runner.loaded {
		session, err := d.state.Snapshot(ctx, id)
		if err != nil {
			runner.mu.Unlock()
			return DispatchResult{}, err
		}
		runner.seq = session.LastRunSeq
		runner.loaded = true
	}
	runner.state = domain.DriverRunning
	runner.mu.Unlock()

	return d.drive(ctx, id, runner, event)
}

func (d *Driver) drive(ctx context.Context, id domain.SessionID, runner *sessionRunner, trigger domain.Event) (DispatchResult, error) {
	var result DispatchResult
	reruns := 0

	finish := func() {
		runner.mu.Lock()
		runner.state = domain.DriverIdle
		runner.cancel = nil
		runner.pending = nil
		runner.mu.Unlock()
	}

	for {
		if err := ctx.Err(); err != nil {
			finish()
			return result, err
		}

		runner.mu.Lock()
		runner.seq++
		seq := runner.seq
		runCtx, cancel := context.WithCancel(ctx)
		runner.cancel = cancel
		if runner.pending != nil {
			// Superseded before it started.
			cancel()
		}
		runner.mu.Unlock()

		out := d.execute(runCtx, id, seq, trigger, reruns)
		cancel()

		result.Runs = append(result.Runs, out.run)
		d.count(out.run.Status)

		if err := d.state.RecordRun(ctx, id, seq); err != nil {
			finish()
			return result, fmt.Errorf("record run %d: %w", seq, err)
		}

		if out.run.Status != domain.RunAbandoned {
			if err := d.presenter.Present(ctx, out.frame); err != nil {
				finish()
				return result, fmt.Errorf("present run %d: %w", seq, err)
			}
		}

		runner.mu.Lock()
		next := runner.pending
		runner.pending = nil
		switch {
		case next != nil:
			trigger = *next
			reruns = 0
		case out.rerun:
			trigger = domain.RerunEvent()
			reruns++
		default:
			runner.state = domain.DriverIdle
			runner.cancel = nil
			runner.mu.Unlock()
			return result, nil
		}
		runner.mu.Unlock()
	}
}

type runOutcome struct {
	run   domain.Run
	frame domain.Frame
	rerun bool
}

func (d *Driver) execute(ctx context.Context, id domain.SessionID, seq uint64, trigger domain.Event, reruns int) runOutcome {
	run := domain.Run{SessionID: id, Seq: seq, Trigger: trigger, StartedAt: d.clock.Now()}
	out := runOutcome{}

	var page *PageContext
	session, err := d.state.Snapshot(ctx, id)
	if err == nil {
		page = newPageContext(ctx, session, seq, trigger, d.state, d.memo, d.clock)
		err = d.invoke(ctx, page)
	}

	switch {
	case err == nil:
		run.Status = domain.RunCompleted
	case errors.Is(err, domain.ErrRerunRequested):
		if reruns >= d.maxReruns {
			run.Status = domain.RunFailed
			err = fmt.Errorf("%w: %d consecutive reruns", domain.ErrRerunLimit, reruns)
			run.Err = err.Error()
		} else {
			run.Status = domain.RunAbandoned
			out.rerun = true
		}
	case errors.Is(err, domain.ErrRunAbandoned), ctx.Err() != nil:
		run.Status = domain.RunAbandoned
	default:
		run.Status = domain.RunFailed
		run.Err = err.Error()
	}
	run.FinishedAt = d.clock.Now()

	out.run = run
	out.frame = domain.Frame{SessionID: id, Seq: seq, Status: run.Status, Err: run.Err}
	if page != nil {
		out.frame.Elements = page.Elements()
	}

	attrs := []any{
		slog.String("session", string(id)),
		slog.Uint64("seq", seq),
		slog.String("trigger", string(trigger.Kind)),
		slog.String("status", string(run.Status)),
		slog.Duration("took", run.Duration()),
	}
	if run.Status == domain.RunFailed {
		d.logger.Warn("run failed", append(attrs, slog.String("error", run.Err))...)
	} else {
		d.logger.Debug("run finished", attrs...)
	}

	return out
}

func (d *Driver) invoke(ctx context.Context, page *PageContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	return d.page(ctx, page)
}

func (d *Driver) count(status domain.RunStatus) {
	switch status {
	case domain.RunCompleted:
		d.completed.Add(1)
	case domain.RunAbandoned:
		d.abandoned.Add(1)
	case domain.RunFailed:
		d.failed.Add(1)
	}
}

func (d *Driver) runnerFor(id domain.SessionID) *sessionRunner {
	d.mu.Lock()
	defer d.mu.Unlock()

	runner, ok := d.sessions[id]
	if !ok {
		runner = &sessionRunner{state: domain.DriverIdle}
		d.sessions[id] = runner
	}
	return runner
}
