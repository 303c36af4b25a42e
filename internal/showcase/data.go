package showcase

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/bnema/pagerun/internal/application"
)

// HeavyRow is one row of the simulated expensive dataset.
type HeavyRow struct {
	Col1 float64 `json:"col1"`
	Col2 int     `json:"col2"`
}

func HeavyRowsTable(rows []HeavyRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, []string{strconv.FormatFloat(row.Col1, 'f', 4, 64), strconv.Itoa(row.Col2)})
	}
	return out
}

// Model stands in for a loaded ML model shared by every session.
type Model struct {
	factor int
}

func (m *Model) Predict(x int) int {
	return x * m.factor
}

// SeededNormal draws n standard normal samples from a fixed seed.
func SeededNormal(seed uint64, n int) []float64 {
	r := rand.New(rand.NewPCG(seed, seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = r.NormFloat64()
	}
	return out
}

// Histogram counts samples into bins equal-width buckets over [lo, hi).
// Samples outside the range land in the first or last bucket.
func Histogram(samples []float64, lo, hi float64, bins int) []float64 {
	if bins <= 0 || hi <= lo {
		return nil
	}

	counts := make([]float64, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range samples {
		idx := int(math.Floor((v - lo) / width))
		counts[clamp(idx, 0, bins-1)]++
	}
	return counts
}

func (p *Page) sampleRows(n int) [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, []string{
			strconv.FormatFloat(p.rng.Float64(), 'f', 4, 64),
			strconv.Itoa(1 + p.rng.IntN(99)),
			string(rune('A' + i%26)),
		})
	}
	return rows
}

func (p *Page) randomSeries(n int, names ...string) map[string][]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	series := make(map[string][]float64, len(names))
	for _, name := range names {
		values := make([]float64, n)
		for i := range values {
			values[i] = p.rng.NormFloat64()
		}
		series[name] = values
	}
	return series
}

func (p *Page) mapPoints(n int, lat, lon float64) map[string][]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	lats := make([]float64, n)
	lons := make([]float64, n)
	for i := 0; i < n; i++ {
		lats[i] = p.rng.NormFloat64()/50 + lat
		lons[i] = p.rng.NormFloat64()/50 + lon
	}
	return map[string][]float64{"lat": lats, "lon": lons}
}

func (p *Page) heavyRows(n int) []HeavyRow {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows := make([]HeavyRow, n)
	for i := range rows {
		rows[i] = HeavyRow{Col1: p.rng.NormFloat64(), Col2: p.rng.IntN(100)}
	}
	return rows
}

func stringInput(pc *application.PageContext, widget, fallback string) string {
	v := pc.Input(widget, nil)
	if v == nil {
		return fallback
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return fallback
	}
	return s
}

func intInput(pc *application.PageContext, widget string, fallback int) int {
	n, ok := asInt(pc.Input(widget, nil))
	if !ok {
		return fallback
	}
	return n
}

func boolInput(pc *application.PageContext, widget string) bool {
	switch v := pc.Input(widget, false).(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

// choiceInput returns the selected option, defaulting to the first one when
// the value does not name an option.
func choiceInput(pc *application.PageContext, widget string, options []string) string {
	selected := stringInput(pc, widget, options[0])
	for _, option := range options {
		if strings.EqualFold(option, selected) {
			return option
		}
	}
	return options[0]
}

func listInput(pc *application.PageContext, widget string, fallback []string) []string {
	switch v := pc.Input(widget, nil).(type) {
	case nil:
		return slices.Clone(fallback)
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		out := make([]string, 0)
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return slices.Clone(fallback)
	}
}

// asInt normalizes numbers that went through a persistence layer, which may
// hand back int64, float64 or json.Number instead of int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
