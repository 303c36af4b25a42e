package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/pagerun/internal/adapters/metrics"
	pagerender "github.com/bnema/pagerun/internal/adapters/render/page"
	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/showcase"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const metricsShutdownTimeout = 2 * time.Second

func newTUICmd(app *app) *cobra.Command {
	var (
		sessionID   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the showcase page interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			id := domain.SessionID(sessionID)
			if id == "" {
				id = app.ids.NewSessionID()
			}

			presenter := &programPresenter{}
			driver := app.newDriver(presenter)

			if metricsAddr != "" {
				stop, err := serveMetrics(metricsAddr, metrics.NewCollector(app.memo, driver))
				if err != nil {
					return err
				}
				defer stop()
			}

			dispatch := func(event domain.Event) tea.Cmd {
				return func() tea.Msg {
					_, err := driver.Dispatch(ctx, id, event)
					return dispatchDoneMsg{err: err}
				}
			}

			p := tea.NewProgram(
				newTUIModel(id, dispatch),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			presenter.attach(p.Send)

			_, err := p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: new session)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")

	return cmd
}

// serveMetrics exposes the collector on /metrics until the returned stop
// function is called.
func serveMetrics(addr string, collector *metrics.Collector) (func(), error) {
	registry, err := metrics.NewRegistry(collector)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		_ = srv.Serve(listener)
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

type tuiModel struct {
	sessionID domain.SessionID
	dispatch  func(domain.Event) tea.Cmd

	frame    domain.Frame
	hasFrame bool
	inFlight int
	err      error
	width    int

	spinner spinner.Model
	input   textinput.Model
	editing bool

	helpStyle  lipgloss.Style
	errStyle   lipgloss.Style
	titleStyle lipgloss.Style
}

func newTUIModel(id domain.SessionID, dispatch func(domain.Event) tea.Cmd) tuiModel {
	input := textinput.New()
	input.Placeholder = "widget=value"
	input.Prompt = "set> "

	return tuiModel{
		sessionID:  id,
		dispatch:   dispatch,
		inFlight:   1,
		spinner:    newSpinner(),
		input:      input,
		helpStyle:  lipgloss.NewStyle().Faint(true),
		errStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		titleStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
	}
}

// Init dispatches the first run, accounted for by the inFlight of 1 set in
// newTUIModel.
func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.dispatch(domain.RerunEvent()))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case frameMsg:
		m.frame = msg.frame
		m.hasFrame = true
		return m, nil
	case dispatchDoneMsg:
		if m.inFlight > 0 {
			m.inFlight--
		}
		m.err = msg.err
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		return m.updateKeys(msg)
	default:
		return m, nil
	}
}

func (m tuiModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "r":
		return m.send(domain.RerunEvent())
	case "c":
		return m.send(domain.ClickEvent(showcase.ButtonClickMe))
	case "+":
		return m.send(domain.ClickEvent(showcase.ButtonIncrement))
	case "e", "/":
		m.editing = true
		m.input.Reset()
		return m, m.input.Focus()
	}

	if section, ok := sectionForKey(key); ok {
		return m.send(domain.InputEvent(showcase.WidgetSection, string(section)))
	}

	return m, nil
}

func (m tuiModel) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		m.editing = false
		m.input.Blur()
		widget, value, err := parseAssignment(m.input.Value())
		if err != nil {
			m.err = err
			return m, nil
		}
		return m.send(domain.InputEvent(widget, value))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) send(event domain.Event) (tea.Model, tea.Cmd) {
	m.inFlight++
	m.err = nil
	return m, m.dispatch(event)
}

func (m tuiModel) View() string {
	var b strings.Builder

	b.WriteString(m.titleStyle.Render(fmt.Sprintf("pagerun · %s", m.sessionID)))
	b.WriteString("\n")
	for i, section := range showcase.Sections {
		fmt.Fprintf(&b, "[%d] %s  ", i+1, section.Title())
	}
	b.WriteString("\n\n")

	if m.hasFrame {
		b.WriteString(pagerender.Render(m.frame, pagerender.RenderOptions{Width: m.width, ShowFooter: true}))
		b.WriteString("\n")
	}

	if m.inFlight > 0 {
		b.WriteString(m.spinner.View() + " running\n")
	}
	if m.err != nil {
		b.WriteString(m.errStyle.Render("error: "+m.err.Error()) + "\n")
	}
	if m.editing {
		b.WriteString(m.input.View() + "\n")
	}
	b.WriteString(m.helpStyle.Render("1-5 section · e set widget · c click me · + increment · r rerun · q quit"))

	return b.String()
}

func sectionForKey(key string) (showcase.Section, bool) {
	if len(key) != 1 || key[0] < '1' || key[0] > '9' {
		return "", false
	}

	idx := int(key[0] - '1')
	if idx >= len(showcase.Sections) {
		return "", false
	}
	return showcase.Sections[idx], true
}
