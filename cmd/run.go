package cmd

import (
	"context"
	"fmt"

	pagerender "github.com/bnema/pagerun/internal/adapters/render/page"
	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
	"github.com/bnema/pagerun/internal/showcase"
	"github.com/spf13/cobra"
)

type runOptions struct {
	sessionID string
	section   string
	inputs    []string
	click     string
	rerun     bool
	asJSON    bool
	width     int
}

func newRunCmd(app *app) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deliver one event to a session and print the resulting page",
		Long: "run applies the given inputs to the session, dispatches a single event and prints the frame of the last completed run.\n" +
			"Without --session a new session is created and its id is printed on stderr.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPage(cmd, app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Session id (default: new session)")
	cmd.Flags().StringVar(&opts.section, "section", "", "Showcase section to select")
	cmd.Flags().StringArrayVar(&opts.inputs, "input", nil, "Widget value as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.click, "click", "", "Button to click")
	cmd.Flags().BoolVar(&opts.rerun, "rerun", false, "Trigger an explicit rerun after applying inputs")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print frames as JSON")
	cmd.Flags().IntVar(&opts.width, "width", 0, "Render width in columns")
	cmd.MarkFlagsMutuallyExclusive("click", "rerun")

	return cmd
}

func runPage(cmd *cobra.Command, app *app, opts runOptions) error {
	ctx := cmd.Context()

	id := domain.SessionID(opts.sessionID)
	if id == "" {
		id = app.ids.NewSessionID()
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", id)
	}

	events, err := buildRunEvents(opts)
	if err != nil {
		return err
	}

	// Every event but the last only updates widget values; the last one
	// drives the runs that get printed.
	last := events[len(events)-1]
	for _, event := range events[:len(events)-1] {
		if err := app.state.SetWidget(ctx, id, event.Widget, event.Value); err != nil {
			return err
		}
	}

	frames := &programPresenter{}
	driver := app.newDriver(frames)

	dispatch := func(ctx context.Context) error {
		_, err := driver.Dispatch(ctx, id, last)
		return err
	}
	if opts.asJSON {
		err = dispatch(ctx)
	} else {
		err = runWithProgress(ctx, cmd.ErrOrStderr(), id, frames, dispatch)
	}
	if err != nil {
		return err
	}

	frame, ok := frames.Last()
	if !ok {
		return fmt.Errorf("run session %s: no frame produced", id)
	}

	var presenter ports.Presenter
	if opts.asJSON {
		presenter = pagerender.NewJSONPresenter(cmd.OutOrStdout())
	} else {
		presenter = pagerender.NewPresenter(cmd.OutOrStdout(), pagerender.RenderOptions{Width: opts.width, ShowFooter: true})
	}
	if err := presenter.Present(ctx, frame); err != nil {
		return err
	}

	if frame.Status == domain.RunFailed {
		return fmt.Errorf("run %d failed: %s", frame.Seq, frame.Err)
	}
	return nil
}

func buildRunEvents(opts runOptions) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(opts.inputs)+2)

	if opts.section != "" {
		section, err := showcase.ParseSection(opts.section)
		if err != nil {
			return nil, err
		}
		events = append(events, domain.InputEvent(showcase.WidgetSection, string(section)))
	}

	for _, raw := range opts.inputs {
		widget, value, err := parseAssignment(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, domain.InputEvent(widget, value))
	}

	switch {
	case opts.click != "":
		events = append(events, domain.ClickEvent(opts.click))
	case opts.rerun || len(events) == 0:
		events = append(events, domain.RerunEvent())
	}

	return events, nil
}
