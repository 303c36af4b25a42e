package application

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
)

// PageContext is what page logic sees during one Run: the session-scoped
// state bag, the shared memo store, control values and the output buffer.
type PageContext struct {
	ctx      context.Context
	session  domain.Session
	seq      uint64
	trigger  domain.Event
	state    *ScopedState
	memo     *MemoStore
	clock    ports.Clock
	elements []domain.Element
}

func newPageContext(ctx context.Context, session domain.Session, seq uint64, trigger domain.Event, state *SessionStateService, memo *MemoStore, clock ports.Clock) *PageContext {
	return &PageContext{
		ctx:     ctx,
		session: session,
		seq:     seq,
		trigger: trigger,
		state:   &ScopedState{ctx: ctx, id: session.ID, svc: state},
		memo:    memo,
		clock:   clock,
	}
}

func (p *PageContext) Context() context.Context { return p.ctx }

func (p *PageContext) SessionID() domain.SessionID { return p.session.ID }

func (p *PageContext) Seq() uint64 { return p.seq }

func (p *PageContext) Trigger() domain.Event { return p.trigger }

func (p *PageContext) State() *ScopedState { return p.state }

func (p *PageContext) Memo() *MemoStore { return p.memo }

func (p *PageContext) Now() time.Time { return p.clock.Now() }

// Input returns the last value delivered for widget, or fallback when the
// control has never been touched in this session.
func (p *PageContext) Input(widget string, fallback any) any {
	if v, ok := p.session.Widget(widget); ok {
		return v
	}
	return fallback
}

// Clicked reports whether this Run was started by a click on widget. Clicks
// are not remembered across Runs.
func (p *PageContext) Clicked(widget string) bool {
	return p.trigger.Kind == domain.EventClick && p.trigger.Widget == widget
}

// Rerun ends the current Run and asks the driver to start a new one. The page
// must return the error it gets back.
func (p *PageContext) Rerun() error {
	return domain.ErrRerunRequested
}

// Checkpoint returns ErrRunAbandoned once a newer event has superseded this Run.
func (p *PageContext) Checkpoint() error {
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRunAbandoned, err)
	}
	return nil
}

// Sleep waits for d unless the Run is abandoned first.
func (p *PageContext) Sleep(d time.Duration) error {
	if d <= 0 {
		return p.Checkpoint()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.ctx.Done():
		return p.Checkpoint()
	case <-timer.C:
		return nil
	}
}

func (p *PageContext) Emit(el domain.Element) {
	p.elements = append(p.elements, el)
}

// Elements returns the output emitted so far, skipping cleared placeholders.
func (p *PageContext) Elements() []domain.Element {
	out := make([]domain.Element, 0, len(p.elements))
	for _, el := range p.elements {
		if el.Kind == "" {
			continue
		}
		out = append(out, el)
	}
	return out
}

func (p *PageContext) Title(text string) {
	p.Emit(domain.Element{Kind: domain.ElementTitle, Text: text})
}

func (p *PageContext) Header(text string) {
	p.Emit(domain.Element{Kind: domain.ElementHeader, Text: text})
}

func (p *PageContext) Subheader(text string) {
	p.Emit(domain.Element{Kind: domain.ElementSubheader, Text: text})
}

func (p *PageContext) Text(text string) { p.Emit(domain.Element{Kind: domain.ElementText, Text: text}) }

func (p *PageContext) Textf(format string, args ...any) {
	p.Text(fmt.Sprintf(format, args...))
}

func (p *PageContext) Markdown(text string) {
	p.Emit(domain.Element{Kind: domain.ElementMarkdown, Text: text})
}

func (p *PageContext) Code(source, language string) {
	p.Emit(domain.Element{Kind: domain.ElementCode, Text: source, Label: language})
}

func (p *PageContext) Caption(text string) {
	p.Emit(domain.Element{Kind: domain.ElementCaption, Text: text})
}

func (p *PageContext) Divider() { p.Emit(domain.Element{Kind: domain.ElementDivider}) }

func (p *PageContext) Callout(level domain.CalloutLevel, text string) {
	p.Emit(domain.Element{Kind: domain.ElementCallout, Level: level, Text: text})
}

func (p *PageContext) Success(text string) { p.Callout(domain.CalloutSuccess, text) }

func (p *PageContext) Info(text string) { p.Callout(domain.CalloutInfo, text) }

func (p *PageContext) Warning(text string) { p.Callout(domain.CalloutWarning, text) }

func (p *PageContext) Error(text string) { p.Callout(domain.CalloutError, text) }

func (p *PageContext) Exception(err error) {
	p.Emit(domain.Element{Kind: domain.ElementException, Label: fmt.Sprintf("%T", err), Text: err.Error()})
}

func (p *PageContext) Metric(label, value, delta string) {
	p.Emit(domain.Element{Kind: domain.ElementMetric, Label: label, Value: value, Delta: delta})
}

func (p *PageContext) Table(columns []string, rows [][]string) {
	p.Emit(domain.Element{Kind: domain.ElementTable, Columns: columns, Rows: rows})
}

func (p *PageContext) Chart(label string, series map[string][]float64) {
	p.Emit(domain.Element{Kind: domain.ElementChart, Label: label, Series: maps.Clone(series)})
}

// Progress emits a progress bar and returns a handle that updates it in place.
func (p *PageContext) Progress(percent int, text string) *ProgressBar {
	p.Emit(domain.Element{Kind: domain.ElementProgress, Text: text, Percent: clampPercent(percent)})
	return &ProgressBar{page: p, index: len(p.elements) - 1}
}

type ProgressBar struct {
	page  *PageContext
	index int
}

func (b *ProgressBar) Set(percent int, text string) {
	el := &b.page.elements[b.index]
	el.Percent = clampPercent(percent)
	el.Text = text
}

// Clear removes the bar from the output.
func (b *ProgressBar) Clear() {
	b.page.elements[b.index] = domain.Element{}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ScopedState is the session state bag bound to one Run. Writes are visible
// to the next Run of the same session.
type ScopedState struct {
	ctx context.Context
	id  domain.SessionID
	svc *SessionStateService
}

func (s *ScopedState) Get(key string) (any, bool, error) {
	return s.svc.Get(s.ctx, s.id, key)
}

func (s *ScopedState) Set(key string, value any) error {
	return s.svc.Set(s.ctx, s.id, key, value)
}

func (s *ScopedState) EnsureDefault(key string, value any) (any, error) {
	return s.svc.EnsureDefault(s.ctx, s.id, key, value)
}

func (s *ScopedState) Delete(key string) error {
	return s.svc.Delete(s.ctx, s.id, key)
}
