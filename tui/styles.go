package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#00A9E0")
	colorMuted  = lipgloss.Color("#6C7086")
	colorError  = lipgloss.Color("#F38BA8")
	colorWarn   = lipgloss.Color("#F9E2AF")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	stateStyle = lipgloss.NewStyle().Foreground(colorMuted)

	statusStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(colorWarn).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().Foreground(colorError)

	helpStyle = lipgloss.NewStyle().Foreground(colorMuted)
)
