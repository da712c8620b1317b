package report

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/combat-report/pkg/batch"
)

// EventMsg carries one orchestrator state change into the progress view.
type EventMsg batch.Event

// DoneMsg ends the progress program.
type DoneMsg struct{}

const recentLines = 6

var (
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	rejectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Progress is the bubbletea model shown while a batch runs.
type Progress struct {
	total    int
	finished int
	counts   map[batch.State]int
	running  map[string]bool
	recent   []string
	onCancel func()
	quitting bool
}

// NewProgress builds the model. onCancel runs when the user presses ctrl+c.
func NewProgress(total int, onCancel func()) *Progress {
	return &Progress{
		total:    total,
		counts:   map[batch.State]int{},
		running:  map[string]bool{},
		onCancel: onCancel,
	}
}

func (m *Progress) Init() tea.Cmd { return nil }

func (m *Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.onCancel != nil {
				m.onCancel()
			}
			m.quitting = true
			return m, tea.Quit
		}
	case EventMsg:
		m.apply(batch.Event(msg))
	case DoneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m *Progress) apply(ev batch.Event) {
	switch ev.State {
	case batch.StateRunning:
		m.running[ev.Wallet] = true
		return
	case batch.StatePending:
		return
	}
	delete(m.running, ev.Wallet)
	if !ev.State.Terminal() {
		return
	}
	m.finished++
	m.counts[ev.State]++

	var line string
	switch ev.State {
	case batch.StateDone:
		tier := ""
		if ev.Report != nil {
			tier = fmt.Sprintf("%s %.1f", ev.Report.Profile.Composite.Tier, ev.Report.Profile.Composite.Score)
		}
		line = doneStyle.Render("✔ "+abbrev(ev.Wallet)) + " " + tier
	case batch.StateFailed:
		line = failStyle.Render("✘ "+abbrev(ev.Wallet)) + " " + dimStyle.Render(errText(ev.Err))
	case batch.StateRejected:
		line = rejectStyle.Render("⊘ "+abbrev(ev.Wallet)) + " " + dimStyle.Render(ev.Reason)
	case batch.StateSkipped:
		line = dimStyle.Render("· " + abbrev(ev.Wallet) + " blacklisted")
	}
	m.recent = append(m.recent, line)
	if len(m.recent) > recentLines {
		m.recent = m.recent[len(m.recent)-recentLines:]
	}
}

func (m *Progress) View() string {
	var b strings.Builder
	ratio := 0.0
	if m.total > 0 {
		ratio = float64(m.finished) / float64(m.total)
	}
	width := 30
	filled := int(ratio * float64(width))
	fmt.Fprintf(&b, "%s%s %d/%d  ", doneStyle.Render(strings.Repeat("█", filled)), dimStyle.Render(strings.Repeat("░", width-filled)), m.finished, m.total)
	fmt.Fprintf(&b, "%s %s %s %s\n",
		doneStyle.Render(fmt.Sprintf("done %d", m.counts[batch.StateDone])),
		failStyle.Render(fmt.Sprintf("failed %d", m.counts[batch.StateFailed])),
		rejectStyle.Render(fmt.Sprintf("rejected %d", m.counts[batch.StateRejected])),
		dimStyle.Render(fmt.Sprintf("skipped %d", m.counts[batch.StateSkipped])))
	if len(m.running) > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("analyzing %d wallet(s)…", len(m.running))) + "\n")
	}
	for _, l := range m.recent {
		b.WriteString(l + "\n")
	}
	if m.quitting {
		b.WriteString(failStyle.Render("cancelling…") + "\n")
	}
	return b.String()
}

// Finished reports how many wallets reached a terminal state.
func (m *Progress) Finished() int { return m.finished }

func errText(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
