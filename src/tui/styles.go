package tui

import (
	"github.com/charmbracelet/lipgloss"

	"kiln-runner/src/contracts"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	dividerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Bold(true)

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Faint(true)

	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	statusStyles = map[string]lipgloss.Style{
		contracts.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		contracts.StatusRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		contracts.StatusSuccess:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		contracts.StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		contracts.StatusCanceled: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		contracts.StatusSkipped:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}

	statusIcons = map[string]string{
		contracts.StatusPending:  "·",
		contracts.StatusRunning:  "●",
		contracts.StatusSuccess:  "✓",
		contracts.StatusFailed:   "✗",
		contracts.StatusCanceled: "⊘",
		contracts.StatusSkipped:  "-",
	}
)

// statusStyle returns the style for a status, defaulting to no color.
func statusStyle(status string) lipgloss.Style {
	style, ok := statusStyles[status]
	if !ok {
		return lipgloss.NewStyle()
	}
	return style
}
