package page

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	defaultWidth = 72
	barWidth     = 24
	maxTableRows = 12
)

var sparkTicks = []rune("▁▂▃▄▅▆▇█")

type RenderOptions struct {
	// Width bounds dividers and sparklines. Zero means 72 columns.
	Width int
	// ShowFooter appends the run sequence and status.
	ShowFooter bool
}

func (o RenderOptions) width() int {
	if o.Width <= 0 {
		return defaultWidth
	}
	return o.Width
}

// Render lays out one frame as terminal text. Presenters write it out; the
// interactive host calls it from its View.
func Render(frame domain.Frame, opts RenderOptions) string {
	return renderFrame(frame, opts, newStyles())
}

func renderFrame(frame domain.Frame, opts RenderOptions, s styles) string {
	lines := make([]string, 0, len(frame.Elements)+2)
	for _, el := range frame.Elements {
		if line := renderElement(el, opts, s); line != "" {
			lines = append(lines, line)
		}
	}

	if frame.Status == domain.RunFailed && frame.Err != "" {
		lines = append(lines, s.failure.Render("error: "+frame.Err))
	}
	if opts.ShowFooter {
		lines = append(lines, s.footer.Render(fmt.Sprintf("session %s · run #%d · %s", frame.SessionID, frame.Seq, frame.Status)))
	}
	if len(lines) == 0 {
		return s.caption.Render("(empty page)")
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderElement(el domain.Element, opts RenderOptions, s styles) string {
	switch el.Kind {
	case domain.ElementTitle:
		return s.title.Render(el.Text)
	case domain.ElementHeader:
		return s.header.Render(el.Text)
	case domain.ElementSubheader:
		return s.subheader.Render(el.Text)
	case domain.ElementText, domain.ElementMarkdown:
		return s.text.Render(el.Text)
	case domain.ElementCaption:
		return s.caption.Render(el.Text)
	case domain.ElementCode:
		return renderCode(el, s)
	case domain.ElementCallout:
		return renderCallout(el.Level, el.Text, s)
	case domain.ElementException:
		return s.failure.Render(fmt.Sprintf("%s: %s", el.Label, el.Text))
	case domain.ElementMetric:
		return renderMetric(el, s)
	case domain.ElementTable:
		return renderTable(el)
	case domain.ElementChart:
		return renderChart(el, opts.width(), s)
	case domain.ElementProgress:
		return lipgloss.JoinHorizontal(lipgloss.Top, renderProgressBar(el.Percent, barWidth, s), " ", s.text.Render(fmt.Sprintf("%3d%% %s", el.Percent, el.Text)))
	case domain.ElementDivider:
		return s.divider.Render(strings.Repeat("─", opts.width()))
	default:
		return ""
	}
}

func renderCode(el domain.Element, s styles) string {
	block := s.code.Render(el.Text)
	if el.Label == "" {
		return block
	}
	return lipgloss.JoinVertical(lipgloss.Left, s.codeLabel.Render(el.Label), block)
}

func renderCallout(level domain.CalloutLevel, text string, s styles) string {
	switch level {
	case domain.CalloutSuccess:
		return s.success.Render("✔ " + text)
	case domain.CalloutWarning:
		return s.warning.Render("! " + text)
	case domain.CalloutError:
		return s.failure.Render("✖ " + text)
	default:
		return s.info.Render("i " + text)
	}
}

func renderMetric(el domain.Element, s styles) string {
	parts := []string{s.metricKey.Render(el.Label + ":"), " ", s.text.Render(el.Value)}
	if el.Delta != "" {
		style := s.metricUp
		arrow := "▲"
		if strings.HasPrefix(strings.TrimSpace(el.Delta), "-") {
			style = s.metricDown
			arrow = "▼"
		}
		parts = append(parts, " ", style.Render(arrow+" "+el.Delta))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func renderTable(el domain.Element) string {
	rows := el.Rows
	more := 0
	if len(rows) > maxTableRows {
		more = len(rows) - maxTableRows
		rows = rows[:maxTableRows]
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(el.Columns...).
		Rows(rows...)

	out := t.String()
	if more > 0 {
		out = lipgloss.JoinVertical(lipgloss.Left, out, fmt.Sprintf("… %d more rows", more))
	}
	return out
}

func renderChart(el domain.Element, width int, s styles) string {
	names := make([]string, 0, len(el.Series))
	for name := range el.Series {
		names = append(names, name)
	}
	slices.Sort(names)

	lines := []string{s.chartLabel.Render(fmt.Sprintf("[%s chart]", el.Label))}
	sparkWidth := max(width-24, 8)
	for _, name := range names {
		values := el.Series[name]
		lo, hi := bounds(values)
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			s.chartLabel.Render(fmt.Sprintf("%-10s", truncate(name, 10))),
			s.spark.Render(Sparkline(values, sparkWidth)),
			s.chartLabel.Render(fmt.Sprintf(" %.2f..%.2f", lo, hi)),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Sparkline compresses values into at most width block characters. Values
// are averaged per bucket when there are more values than columns.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}

	buckets := values
	if len(values) > width {
		buckets = make([]float64, width)
		for i := range buckets {
			start := i * len(values) / width
			end := (i + 1) * len(values) / width
			sum := 0.0
			for _, v := range values[start:end] {
				sum += v
			}
			buckets[i] = sum / float64(end-start)
		}
	}

	lo, hi := bounds(buckets)
	var b strings.Builder
	for _, v := range buckets {
		idx := 0
		if hi > lo {
			idx = int(math.Round((v - lo) / (hi - lo) * float64(len(sparkTicks)-1)))
		}
		b.WriteRune(sparkTicks[idx])
	}
	return b.String()
}

func bounds(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return slices.Min(values), slices.Max(values)
}

func renderProgressBar(percent, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := int(math.Round(float64(width) * float64(clampPercent(percent)) / 100))
	filled = min(max(filled, 0), width)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
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

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
