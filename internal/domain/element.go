package domain

type ElementKind string

const (
	ElementTitle     ElementKind = "title"
	ElementHeader    ElementKind = "header"
	ElementSubheader ElementKind = "subheader"
	ElementText      ElementKind = "text"
	ElementMarkdown  ElementKind = "markdown"
	ElementCode      ElementKind = "code"
	ElementCaption   ElementKind = "caption"
	ElementCallout   ElementKind = "callout"
	ElementMetric    ElementKind = "metric"
	ElementTable     ElementKind = "table"
	ElementChart     ElementKind = "chart"
	ElementProgress  ElementKind = "progress"
	ElementDivider   ElementKind = "divider"
	ElementException ElementKind = "exception"
)

type CalloutLevel string

const (
	CalloutSuccess CalloutLevel = "success"
	CalloutInfo    CalloutLevel = "info"
	CalloutWarning CalloutLevel = "warning"
	CalloutError   CalloutLevel = "error"
)

// Element is a single value handed to the presentation host. Only the fields
// relevant to Kind are set.
type Element struct {
	Kind    ElementKind          `json:"kind"`
	Text    string               `json:"text,omitempty"`
	Label   string               `json:"label,omitempty"`
	Value   string               `json:"value,omitempty"`
	Delta   string               `json:"delta,omitempty"`
	Level   CalloutLevel         `json:"level,omitempty"`
	Columns []string             `json:"columns,omitempty"`
	Rows    [][]string           `json:"rows,omitempty"`
	Series  map[string][]float64 `json:"series,omitempty"`
	Percent int                  `json:"percent,omitempty"`
}

// Frame is the output of one Run as seen by the presentation host.
type Frame struct {
	SessionID SessionID `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Status    RunStatus `json:"status"`
	Elements  []Element `json:"elements"`
	Err       string    `json:"error,omitempty"`
}
