package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type frameMsg struct {
	frame domain.Frame
}

type dispatchDoneMsg struct {
	err error
}

// programPresenter keeps every presented frame and, once attached, forwards
// it into a running bubbletea program.
type programPresenter struct {
	mu     sync.Mutex
	send   func(tea.Msg)
	frames []domain.Frame
}

var _ ports.Presenter = (*programPresenter)(nil)

func (p *programPresenter) attach(send func(tea.Msg)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.send = send
}

func (p *programPresenter) Present(_ context.Context, frame domain.Frame) error {
	p.mu.Lock()
	p.frames = append(p.frames, frame)
	send := p.send
	p.mu.Unlock()

	if send != nil {
		send(frameMsg{frame: frame})
	}
	return nil
}

func (p *programPresenter) Last() (domain.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return domain.Frame{}, false
	}
	return p.frames[len(p.frames)-1], true
}

func newSpinner() spinner.Model {
	return spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)
}

// runProgressModel follows the runs of one dispatch: which run the session is
// on, how many were presented and how the last one ended.
type runProgressModel struct {
	spinner   spinner.Model
	sessionID domain.SessionID
	dispatch  tea.Cmd

	presented int
	last      domain.Frame
	err       error
	done      bool
}

func newRunProgressModel(id domain.SessionID, dispatch tea.Cmd) runProgressModel {
	return runProgressModel{
		spinner:   newSpinner(),
		sessionID: id,
		dispatch:  dispatch,
	}
}

func (m runProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.dispatch)
}

func (m runProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case frameMsg:
		m.presented++
		m.last = msg.frame
		return m, nil
	case dispatchDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m runProgressModel) View() string {
	if m.done {
		return ""
	}
	if m.presented == 0 {
		return fmt.Sprintf("%s running page for session %s...", m.spinner.View(), m.sessionID)
	}

	return fmt.Sprintf("%s session %s · run #%d %s · %d presented",
		m.spinner.View(), m.sessionID, m.last.Seq, m.last.Status, m.presented)
}

// runWithProgress drives one dispatch while a spinner on output follows the
// frames arriving at presenter.
func runWithProgress(ctx context.Context, output io.Writer, id domain.SessionID, presenter *programPresenter, dispatch func(context.Context) error) error {
	dispatchCmd := func() tea.Msg {
		return dispatchDoneMsg{err: dispatch(ctx)}
	}

	p := tea.NewProgram(
		newRunProgressModel(id, dispatchCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)
	presenter.attach(p.Send)
	defer presenter.attach(nil)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(runProgressModel)
	if !ok {
		return fmt.Errorf("unexpected final progress model type %T", finalModel)
	}

	return result.err
}
