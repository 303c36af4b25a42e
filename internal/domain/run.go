package domain

import "time"

type EventKind string

const (
	EventInput EventKind = "input"
	EventClick EventKind = "click"
	EventRerun EventKind = "rerun"
)

// Event is what the presentation host delivers to the driver.
type Event struct {
	Kind   EventKind
	Widget string
	Value  any
}

func InputEvent(widget string, value any) Event {
	return Event{Kind: EventInput, Widget: widget, Value: value}
}

func ClickEvent(widget string) Event {
	return Event{Kind: EventClick, Widget: widget, Value: true}
}

func RerunEvent() Event {
	return Event{Kind: EventRerun}
}

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunAbandoned RunStatus = "abandoned"
	RunFailed    RunStatus = "failed"
)

type Run struct {
	SessionID  SessionID
	Seq        uint64
	Trigger    Event
	Status     RunStatus
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

type DriverState string

const (
	DriverIdle    DriverState = "idle"
	DriverRunning DriverState = "running"
)
