package page

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	subheader  lipgloss.Style
	text       lipgloss.Style
	caption    lipgloss.Style
	code       lipgloss.Style
	codeLabel  lipgloss.Style
	success    lipgloss.Style
	info       lipgloss.Style
	warning    lipgloss.Style
	failure    lipgloss.Style
	metricKey  lipgloss.Style
	metricUp   lipgloss.Style
	metricDown lipgloss.Style
	chartLabel lipgloss.Style
	spark      lipgloss.Style
	barBracket lipgloss.Style
	barFill    lipgloss.Style
	barEmpty   lipgloss.Style
	divider    lipgloss.Style
	footer     lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		header:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).MarginTop(1),
		subheader:  lipgloss.NewStyle().Foreground(lipgloss.Color("111")),
		text:       lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		caption:    lipgloss.NewStyle().Faint(true),
		code:       lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1),
		codeLabel:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		success:    lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		info:       lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		warning:    lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
		failure:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		metricKey:  lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		metricUp:   lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		metricDown: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		chartLabel: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		spark:      lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		barBracket: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		barFill:    lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		barEmpty:   lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		divider:    lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		footer:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}
