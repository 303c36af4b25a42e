// Package showcase is the feature showcase page driven by the runtime. Every
// section is plain page logic written against application.PageContext.
package showcase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/pagerun/internal/application"
)

type Section string

const (
	SectionText   Section = "text"
	SectionInputs Section = "inputs"
	SectionData   Section = "data"
	SectionLayout Section = "layout"
	SectionState  Section = "state"
)

// Sections lists the sidebar choices in display order.
var Sections = []Section{SectionText, SectionInputs, SectionData, SectionLayout, SectionState}

func (s Section) Title() string {
	switch s {
	case SectionText:
		return "Text & Media"
	case SectionInputs:
		return "Input Widgets"
	case SectionData:
		return "Data Display & Charts"
	case SectionLayout:
		return "Layout & Status"
	case SectionState:
		return "Session State & Caching"
	default:
		return string(s)
	}
}

func ParseSection(raw string) (Section, error) {
	normalized := Section(strings.ToLower(strings.TrimSpace(raw)))
	for _, s := range Sections {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSection, raw)
}

// Widget names the page reads. Hosts deliver events under these names.
const (
	WidgetSection   = "section"
	WidgetName      = "name"
	WidgetAge       = "age"
	WidgetOption    = "option"
	WidgetFruits    = "fruits"
	WidgetAgree     = "agree"
	WidgetGender    = "gender"
	WidgetSlider    = "slider"
	WidgetDate      = "date"
	WidgetTime      = "time"
	ButtonClickMe   = "click_me"
	ButtonIncrement = "increment"
)

const (
	heavyDataIdentity = "showcase.load_heavy_data"
	modelIdentity     = "showcase.load_ml_model"
	counterKey        = "counter"
	footerCaption     = "Built with ❤️ by Streamlit Enthusiast"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrCounterNotInt  = errors.New("counter is not an integer")
	errDivisionByZero = errors.New("division by zero")
)

type Options struct {
	// DelayScale multiplies every simulated delay. Zero disables them.
	DelayScale float64
	// Seed fixes the random sample data. Zero seeds from the clock.
	Seed uint64
}

type Page struct {
	scale float64

	mu  sync.Mutex
	rng *rand.Rand
}

func New(opts Options) *Page {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	scale := opts.DelayScale
	if scale < 0 {
		scale = 0
	}

	return &Page{
		scale: scale,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Run renders the page once for the current session.
func (p *Page) Run(ctx context.Context, pc *application.PageContext) error {
	pc.Title("✨ Feature Showcase")
	pc.Text("This page demonstrates the display widgets, inputs, layout primitives and the state and caching helpers of the runtime.")

	section, err := ParseSection(fmt.Sprint(pc.Input(WidgetSection, string(SectionText))))
	if err != nil {
		return err
	}

	switch section {
	case SectionText:
		p.textSection(pc)
	case SectionInputs:
		p.inputsSection(pc)
	case SectionData:
		p.dataSection(pc)
	case SectionLayout:
		err = p.layoutSection(pc)
	case SectionState:
		err = p.stateSection(ctx, pc)
	}
	if err != nil {
		return err
	}

	p.sidebar(pc)
	return nil
}

// sidebar closes every run with the navigation notes and the footer.
func (p *Page) sidebar(pc *application.PageContext) {
	pc.Divider()
	pc.Subheader("Navigation & Controls")
	pc.Info("Explore different sections to see the runtime's capabilities!")
	pc.Divider()
	pc.Caption(footerCaption)
}

func (p *Page) textSection(pc *application.PageContext) {
	pc.Header("1. Text & Media Elements")
	pc.Subheader("Displaying various types of text and media.")

	pc.Text("This is a simple text output.")
	pc.Divider()
	pc.Markdown(strings.Join([]string{
		"### Markdown Support",
		"You can use **Markdown** to format text.",
		"- **Bold Text**",
		"- *Italic Text*",
		"- `Code snippets`",
	}, "\n"))
	pc.Code("package main\n\nfunc main() {\n\tprintln(\"Hello, pagerun!\")\n}", "go")
	pc.Code("E=mc^2", "latex")
	pc.Caption("This is a small caption for some extra information.")

	pc.Subheader("Images, Audio, and Video")
	pc.Caption("Logo (image rendering is left to the host)")
}

func (p *Page) inputsSection(pc *application.PageContext) {
	pc.Header("2. Input Widgets")
	pc.Subheader("Collecting user input with interactive widgets.")

	if name := stringInput(pc, WidgetName, ""); name != "" {
		pc.Textf("Hello, %s!", name)
	}

	age := clamp(intInput(pc, WidgetAge, 30), 0, 120)
	pc.Textf("You are %d years old.", age)

	option := choiceInput(pc, WidgetOption, []string{"Option A", "Option B", "Option C"})
	pc.Textf("You selected: %s", option)

	fruits := listInput(pc, WidgetFruits, []string{"Apple", "Cherry"})
	pc.Textf("Your favorite fruits are: %s", strings.Join(fruits, ", "))

	if boolInput(pc, WidgetAgree) {
		pc.Success("You agreed!")
	} else {
		pc.Warning("Please agree to proceed.")
	}

	gender := choiceInput(pc, WidgetGender, []string{"Male", "Female", "Other"})
	pc.Textf("You identified as: %s", gender)

	slider := clamp(intInput(pc, WidgetSlider, 50), 0, 100)
	pc.Textf("Slider value: %d", slider)

	if pc.Clicked(ButtonClickMe) {
		pc.Text("Button was clicked!")
	}

	now := pc.Now()
	pc.Textf("Selected date: %s", stringInput(pc, WidgetDate, now.Format(time.DateOnly)))
	pc.Textf("Selected time: %s", stringInput(pc, WidgetTime, now.Format("15:04")))
}

func (p *Page) dataSection(pc *application.PageContext) {
	pc.Header("3. Data Display & Charts")
	pc.Subheader("Visualizing data with tables and various chart types.")

	columns := []string{"Col1", "Col2", "Col3"}
	rows := p.sampleRows(10)

	pc.Markdown("### Data Frame")
	pc.Table(columns, rows)
	pc.Markdown("### Static Table")
	pc.Table(columns, rows[:5])

	pc.Markdown("### Metrics")
	pc.Metric("Temperature", "25 °C", "1 °C")
	pc.Metric("Humidity", "60%", "-2%")
	pc.Metric("Wind Speed", "15 km/h", "5%")

	pc.Markdown("### Charts")
	series := p.randomSeries(20, "a", "b", "c")
	pc.Subheader("Line Chart")
	pc.Chart("line", series)
	pc.Subheader("Area Chart")
	pc.Chart("area", series)
	pc.Subheader("Bar Chart")
	pc.Chart("bar", series)

	pc.Subheader("Histogram")
	pc.Chart("Distribution of Random Data", map[string][]float64{
		"frequency": Histogram(SeededNormal(42, 1000), -4, 4, 16),
	})

	pc.Subheader("Map Chart")
	pc.Chart("map", p.mapPoints(1000, 28.6, 77.2))
}

func (p *Page) layoutSection(pc *application.PageContext) error {
	pc.Header("4. Layout & Status Elements")
	pc.Subheader("Organizing your app and showing real-time feedback.")

	pc.Markdown("### Columns Layout")
	pc.Text("This is in the first column.")
	pc.Text("This is in the second column.")
	pc.Divider()

	pc.Markdown("### Expander")
	pc.Text("This content is hidden by default and expands when clicked.")
	pc.Info("You can put any element inside an expander.")
	pc.Divider()

	pc.Markdown("### Tabs")
	pc.Header("Content for Tab A")
	pc.Text("This is the content of the first tab.")
	pc.Header("Content for Tab B")
	pc.Text("This is the content of the second tab. Different content!")
	pc.Header("Content for Tab C")
	pc.Success("You found the hidden success message!")
	pc.Divider()

	pc.Markdown("### Status Messages & Progress")
	pc.Success("This is a success message!")
	pc.Info("This is an informational message.")
	pc.Warning("This is a warning message.")
	pc.Error("This is an error message!")
	pc.Exception(errDivisionByZero)

	pc.Markdown("### Progress Bar")
	const progressText = "Operation in progress. Please wait."
	bar := pc.Progress(0, progressText)
	for done := 1; done <= 100; done++ {
		if err := pc.Sleep(p.delay(10 * time.Millisecond)); err != nil {
			return err
		}
		bar.Set(done, progressText)
	}
	bar.Clear()
	pc.Success("Operation complete!")

	pc.Markdown("### Spinner")
	if err := pc.Sleep(p.delay(2 * time.Second)); err != nil {
		return err
	}
	pc.Success("Data loaded!")

	return nil
}

func (p *Page) stateSection(ctx context.Context, pc *application.PageContext) error {
	pc.Header("5. Session State & Caching")
	pc.Subheader("Managing application state and optimizing performance.")

	pc.Markdown("### Session State")
	pc.Info("Session state preserves values across reruns.")

	current, err := pc.State().EnsureDefault(counterKey, 0)
	if err != nil {
		return err
	}
	counter, ok := asInt(current)
	if !ok {
		return fmt.Errorf("%w: %v", ErrCounterNotInt, current)
	}
	pc.Textf("Current counter value: %d", counter)

	if pc.Clicked(ButtonIncrement) {
		if err := pc.State().Set(counterKey, counter+1); err != nil {
			return err
		}
		return pc.Rerun()
	}

	pc.Divider()
	pc.Markdown("### Caching (data and resource)")
	pc.Info("Caching skips expensive computations on rerun when their inputs have not changed.")

	var loaded atomic.Bool
	rows, err := application.CacheData(ctx, pc.Memo(), heavyDataIdentity, nil, func(ctx context.Context) ([]HeavyRow, error) {
		loaded.Store(true)
		if err := sleepContext(ctx, p.delay(3*time.Second)); err != nil {
			return nil, err
		}
		return p.heavyRows(1000), nil
	})
	if err != nil {
		return err
	}
	if loaded.Load() {
		pc.Text("Loading heavy data (this runs only once or when inputs change)...")
	}
	pc.Text("Heavy data loaded and cached:")
	pc.Table([]string{"col1", "col2"}, HeavyRowsTable(rows[:min(5, len(rows))]))

	loaded.Store(false)
	model, err := application.CacheResource(ctx, pc.Memo(), modelIdentity, nil, func(ctx context.Context) (*Model, error) {
		loaded.Store(true)
		if err := sleepContext(ctx, p.delay(2*time.Second)); err != nil {
			return nil, err
		}
		return &Model{factor: 2}, nil
	})
	if err != nil {
		return err
	}
	if loaded.Load() {
		pc.Text("Loading ML model (this runs only once across all sessions)...")
	}
	pc.Textf("Model prediction for 5: %d", model.Predict(5))
	pc.Text("Try interacting with other widgets. The cached functions won't re-run unless their inputs change!")

	return nil
}

func (p *Page) delay(d time.Duration) time.Duration {
	return time.Duration(float64(d) * p.scale)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
