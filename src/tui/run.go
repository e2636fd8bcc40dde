// Package tui provides the terminal interface for watching a run: a job
// list on top, the selected job's streaming log below.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"kiln-runner/src/broker"
	"kiln-runner/src/contracts"
	"kiln-runner/src/store"
)

// keyMap holds the run view keybindings.
type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	LogUp   key.Binding
	LogDown key.Binding
	LogTop  key.Binding
	LogTail key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/↓", "select job")),
	Down:    key.NewBinding(key.WithKeys("down", "j")),
	LogUp:   key.NewBinding(key.WithKeys("u", "pgup"), key.WithHelp("u/d", "scroll log")),
	LogDown: key.NewBinding(key.WithKeys("d", "pgdown")),
	LogTop:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g/G", "log top/tail")),
	LogTail: key.NewBinding(key.WithKeys("G")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// column widths for the job list
const (
	statusWidth = 14
	nameWidth   = 40
)

// runEventMsg carries one broker run event into the model.
type runEventMsg broker.Message

// eventsClosedMsg signals the broker subscription ended.
type eventsClosedMsg struct{}

// refreshMsg forces a reload from the store; the fallback when watching
// without a broker subscription.
type refreshMsg time.Time

// RunModel is the Bubble Tea model for watching a run. It polls the
// store on broker events and renders a split view: job list on the top
// quarter, the selected job's log tail below.
type RunModel struct {
	store  store.Store
	events <-chan broker.Message
	runID  string

	run      *store.Run
	jobs     []store.Job
	logLines []string

	cursor         int
	listScroll     int
	logScroll      int // distance from the log tail, 0 follows
	terminalWidth  int
	terminalHeight int

	progress ProgressModel
	err      error
}

// NewRunModel creates a model watching runID. events may be nil; the
// model then refreshes on a timer only.
func NewRunModel(st store.Store, events <-chan broker.Message, runID string) RunModel {
	return RunModel{
		store:    st,
		events:   events,
		runID:    runID,
		progress: NewProgressModel(0),
	}
}

// Init starts the event wait, the refresh timer and the spinner.
func (m RunModel) Init() tea.Cmd {
	cmds := []tea.Cmd{refreshTick(), SpinnerTick(), m.reloadCmd()}
	if m.events != nil {
		cmds = append(cmds, waitForEvent(m.events))
	}
	return tea.Batch(cmds...)
}

func waitForEvent(ch <-chan broker.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return runEventMsg(msg)
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// reloadedMsg carries a fresh snapshot from the store.
type reloadedMsg struct {
	run  *store.Run
	jobs []store.Job
	log  string
	err  error
}

// reloadCmd snapshots the run, its jobs and the selected job's log.
func (m RunModel) reloadCmd() tea.Cmd {
	st, runID, cursor := m.store, m.runID, m.cursor
	return func() tea.Msg {
		ctx := context.Background()
		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return reloadedMsg{err: err}
		}
		jobs, err := st.GetJobs(ctx, runID)
		if err != nil {
			return reloadedMsg{run: run, err: err}
		}
		var log string
		if cursor < len(jobs) {
			log, _ = st.GetJobLog(ctx, jobs[cursor].ID)
		}
		return reloadedMsg{run: run, jobs: jobs, log: log}
	}
}

// Update handles messages and updates the model state.
func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.progress, cmd = m.progress.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.terminalWidth = msg.Width
		m.terminalHeight = msg.Height

	case reloadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, cmd
		}
		m.err = nil
		m.run = msg.run
		m.jobs = msg.jobs
		m.logLines = splitLog(msg.log)
		done := 0
		for _, j := range m.jobs {
			if contracts.Terminal(j.Status) {
				done++
			}
		}
		m.progress.SetProgress(done, len(m.jobs))
		return m, cmd

	case runEventMsg:
		cmds := []tea.Cmd{cmd, m.reloadCmd()}
		if m.events != nil {
			cmds = append(cmds, waitForEvent(m.events))
		}
		return m, tea.Batch(cmds...)

	case eventsClosedMsg:
		m.events = nil
		return m, cmd

	case refreshMsg:
		if m.run == nil || !contracts.Terminal(m.run.Status) {
			return m, tea.Batch(cmd, m.reloadCmd(), refreshTick())
		}
		return m, tea.Batch(cmd, refreshTick())

	case tea.KeyMsg:
		listHeight := m.listHeight()
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.listScroll {
					m.listScroll = m.cursor
				}
				m.logScroll = 0
				return m, tea.Batch(cmd, m.reloadCmd())
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.jobs)-1 {
				m.cursor++
				if m.cursor >= m.listScroll+listHeight {
					m.listScroll = m.cursor - listHeight + 1
				}
				m.logScroll = 0
				return m, tea.Batch(cmd, m.reloadCmd())
			}

		case key.Matches(msg, keys.LogDown):
			if m.logScroll > 0 {
				m.logScroll--
			}
		case key.Matches(msg, keys.LogUp):
			if m.logScroll < max(0, len(m.logLines)-1) {
				m.logScroll++
			}
		case key.Matches(msg, keys.LogTop):
			m.logScroll = max(0, len(m.logLines)-m.logHeight())
		case key.Matches(msg, keys.LogTail):
			m.logScroll = 0

		case key.Matches(msg, keys.Refresh):
			return m, tea.Batch(cmd, m.reloadCmd())
		}
	}

	return m, cmd
}

func (m RunModel) listHeight() int {
	// title + header + divider + help
	available := m.terminalHeight - 4
	if available < 8 {
		available = 8
	}
	h := available / 4
	if h < 2 {
		h = 2
	}
	return h
}

func (m RunModel) logHeight() int {
	available := m.terminalHeight - 4
	if available < 8 {
		available = 8
	}
	return available - m.listHeight()
}

// View renders the split view.
func (m RunModel) View() string {
	if m.terminalHeight == 0 {
		return "Initializing..."
	}
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}
	if m.run == nil {
		return "Loading run...\n"
	}

	var b strings.Builder

	title := fmt.Sprintf("kiln · %s · run %s · %s",
		m.run.WorkflowName, shortID(m.run.ID), m.run.Status)
	b.WriteString(titleStyle.Render(title))
	b.WriteString("  ")
	b.WriteString(m.progress.View())
	b.WriteString("\n")

	header := fmt.Sprintf("%s %s Duration",
		TruncateAndPad("Status", statusWidth, false),
		TruncateAndPad("Job", nameWidth, false))
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	listHeight := m.listHeight()
	rows := m.renderJobList()
	start := m.listScroll
	end := min(start+listHeight, len(rows))
	for i := start; i < end; i++ {
		b.WriteString(rows[i])
		b.WriteString("\n")
	}
	for i := end - start; i < listHeight; i++ {
		b.WriteString("\n")
	}

	width := m.terminalWidth
	if width <= 0 {
		width = 80
	}
	b.WriteString(dividerStyle.Render(strings.Repeat("─", width)))
	b.WriteString("\n")

	for _, line := range m.visibleLogLines() {
		b.WriteString(logStyle.Render(Truncate(line, width-2, true)))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("↑/↓ select job • u/d scroll log • g/G log top/tail • r refresh • q quit"))
	return b.String()
}

// renderJobList renders one row per job.
func (m RunModel) renderJobList() []string {
	rows := make([]string, 0, len(m.jobs))
	for i, job := range m.jobs {
		// Pad the plain text before styling so escape codes do not
		// skew the column width.
		cell := TruncateAndPad(statusIcons[job.Status]+" "+job.Status, statusWidth, false)
		row := fmt.Sprintf("%s %s %s",
			statusStyle(job.Status).Render(cell),
			TruncateAndPad(job.Name, nameWidth, true),
			jobDuration(job))

		if i == m.cursor {
			rows = append(rows, cursorStyle.Render("► ")+row)
		} else {
			rows = append(rows, "  "+row)
		}
	}
	return rows
}

// visibleLogLines returns the log window honoring the scroll offset,
// following the tail when the offset is zero.
func (m RunModel) visibleLogLines() []string {
	h := m.logHeight()
	if len(m.logLines) == 0 {
		return []string{"(no output yet)"}
	}

	end := len(m.logLines) - m.logScroll
	if end > len(m.logLines) {
		end = len(m.logLines)
	}
	if end < 1 {
		end = 1
	}
	start := max(0, end-h)
	return m.logLines[start:end]
}

func splitLog(log string) []string {
	if log == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	for i, line := range lines {
		lines[i] = ansi.Strip(line)
	}
	return lines
}

func jobDuration(job store.Job) string {
	if job.StartedAt.IsZero() {
		return ""
	}
	end := job.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	d := end.Sub(job.StartedAt).Round(time.Second)
	if d < 0 {
		return ""
	}
	return d.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
