package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Spinner frames shown while a run is executing.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))

// SpinnerTickMsg advances the spinner animation.
type SpinnerTickMsg time.Time

// SpinnerTick returns a command that sends SpinnerTickMsg after a delay.
func SpinnerTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return SpinnerTickMsg(t)
	})
}

// ProgressModel tracks job completion for the header line.
type ProgressModel struct {
	done         int
	total        int
	finished     bool
	spinnerFrame int
}

// NewProgressModel creates a progress tracker for total jobs.
func NewProgressModel(total int) ProgressModel {
	return ProgressModel{total: total}
}

// Update consumes spinner ticks and completion counts.
func (m ProgressModel) Update(msg tea.Msg) (ProgressModel, tea.Cmd) {
	if _, ok := msg.(SpinnerTickMsg); ok {
		m.spinnerFrame = (m.spinnerFrame + 1) % len(spinnerFrames)
		if !m.finished {
			return m, SpinnerTick()
		}
	}
	return m, nil
}

// SetProgress records completed vs total jobs.
func (m *ProgressModel) SetProgress(done, total int) {
	m.done = done
	m.total = total
	m.finished = total > 0 && done >= total
}

// View renders the spinner and completion counter.
func (m ProgressModel) View() string {
	if m.finished {
		return fmt.Sprintf("%d/%d jobs", m.done, m.total)
	}
	spinner := spinnerStyle.Render(spinnerFrames[m.spinnerFrame])
	if m.total == 0 {
		return spinner
	}
	return fmt.Sprintf("%s %d/%d jobs", spinner, m.done, m.total)
}
