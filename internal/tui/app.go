// internal/tui/app.go
//
// Progress view for a running batch. The batch runs on its own goroutine and
// reports through Observer, which turns every event into a bubbletea message;
// the model only ever renders what it has been told.

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/automega/internal/batch"
	"github.com/kingrea/automega/internal/jobs"
)

const recentLimit = 8

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	archivedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	skippedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	noResultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

type batchStartedMsg struct {
	runID string
	total int
}

type jobStartedMsg struct{ job jobs.Job }

type jobFinishedMsg struct{ outcome batch.Outcome }

type batchFinishedMsg struct {
	summary batch.Summary
	err     error
}

// Observer forwards batch events to a bubbletea program.
type Observer struct {
	send func(tea.Msg)
}

var _ batch.Observer = (*Observer)(nil)

// NewObserver returns an observer feeding p.
func NewObserver(p *tea.Program) *Observer {
	return &Observer{send: p.Send}
}

func (o *Observer) BatchStarted(runID string, total int) {
	o.send(batchStartedMsg{runID: runID, total: total})
}

func (o *Observer) JobStarted(job jobs.Job) { o.send(jobStartedMsg{job: job}) }

func (o *Observer) JobFinished(outcome batch.Outcome) { o.send(jobFinishedMsg{outcome: outcome}) }

func (o *Observer) BatchFinished(summary batch.Summary, err error) {
	o.send(batchFinishedMsg{summary: summary, err: err})
}

// Model is the progress view.
type Model struct {
	stage    string
	runID    string
	total    int
	done     int
	current  *jobs.Job
	started  time.Time
	recent   []batch.Outcome
	summary  batch.Summary
	finished bool
	stopping bool
	err      error
	width    int

	progress progress.Model
	spinner  spinner.Model
	// interrupt asks the batch to stop; the view stays up until the batch
	// reports that it has.
	interrupt func()
}

// NewModel builds the view for stage. interrupt is called once on q/ctrl+c.
func NewModel(stage string, interrupt func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	return Model{
		stage:     stage,
		started:   time.Now(),
		progress:  progress.New(progress.WithDefaultGradient()),
		spinner:   sp,
		interrupt: interrupt,
		width:     80,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update applies one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(10, msg.Width-8)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.finished {
				return m, tea.Quit
			}
			if !m.stopping {
				m.stopping = true
				if m.interrupt != nil {
					m.interrupt()
				}
			}
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case batchStartedMsg:
		m.runID = msg.runID
		m.total = msg.total
		return m, nil
	case jobStartedMsg:
		job := msg.job
		m.current = &job
		return m, nil
	case jobFinishedMsg:
		m.done++
		m.current = nil
		m.recent = append(m.recent, msg.outcome)
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}
		return m, nil
	case batchFinishedMsg:
		m.finished = true
		m.current = nil
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

// Finished reports whether the batch has reported its end.
func (m Model) Finished() bool { return m.finished }

// Result returns what the batch reported when it finished.
func (m Model) Result() (batch.Summary, error) {
	return m.summary, m.err
}

// View renders the current state.
func (m Model) View() string {
	var b strings.Builder
	title := fmt.Sprintf("automega · %s", m.stage)
	if m.runID != "" {
		title += detailStyle.Render("  run " + shortID(m.runID))
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	percent := 0.0
	if m.total > 0 {
		percent = float64(m.done) / float64(m.total)
	}
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString(fmt.Sprintf("  %d/%d\n\n", m.done, m.total))

	switch {
	case m.finished:
		b.WriteString(m.finishLine())
	case m.stopping:
		b.WriteString(failedStyle.Render("stopping after the current step..."))
	case m.current != nil:
		b.WriteString(fmt.Sprintf("%s searching %s for %s", m.spinner.View(), m.current.Organism, m.current.Query.ID))
	default:
		b.WriteString(m.spinner.View() + " preparing")
	}
	b.WriteString("\n")

	if len(m.recent) > 0 {
		lines := make([]string, 0, len(m.recent))
		for _, o := range m.recent {
			lines = append(lines, outcomeLine(o))
		}
		b.WriteString(boxStyle.Width(max(20, m.width-4)).Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}
	b.WriteString(footerStyle.Render(fmt.Sprintf("elapsed %s · q to stop", time.Since(m.started).Truncate(time.Second))))
	return b.String()
}

func (m Model) finishLine() string {
	s := m.summary
	line := fmt.Sprintf("done: %d archived, %d skipped, %d failed", s.Archived, s.Skipped, s.Failed)
	if m.err != nil {
		return failedStyle.Render(line + " · stopped: " + m.err.Error())
	}
	return archivedStyle.Render(line)
}

func outcomeLine(o batch.Outcome) string {
	label := o.Job.String()
	switch o.Status {
	case batch.StatusArchived:
		return archivedStyle.Render("✓ ") + label + detailStyle.Render(" "+o.Elapsed.Truncate(time.Second).String())
	case batch.StatusSkipped:
		return skippedStyle.Render("- " + label + " (already archived)")
	}
	style := failedStyle
	if o.Kind == jobs.NoResult {
		style = noResultStyle
	}
	return style.Render("✗ ") + label + " " + style.Render(string(o.Kind))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
