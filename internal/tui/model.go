// Package tui renders the progress of processing runs with bubbletea.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"allinone/internal/staged"
)

const maxRows = 8

// Update is one published snapshot of the job named Job.
type Update struct {
	Job      string
	Snapshot staged.Snapshot
}

type Model struct {
	title    string
	updates  <-chan Update
	abort    func()
	started  time.Time
	width    int
	order    []string
	jobs     map[string]staged.Snapshot
	aborted  bool
	quitting bool
}

type doneMsg struct{}

type updateMsg Update

// NewModel shows progress for the named jobs. abort is called once when the
// user presses Ctrl+C; the model keeps draining updates until the channel closes.
func NewModel(title string, jobs []string, updates <-chan Update, abort func()) Model {
	m := Model{
		title:   title,
		updates: updates,
		abort:   abort,
		started: time.Now(),
		jobs:    make(map[string]staged.Snapshot, len(jobs)),
	}
	for _, name := range jobs {
		m.order = append(m.order, name)
		m.jobs[name] = staged.Snapshot{Stage: staged.Idle}
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		if _, known := m.jobs[msg.Job]; !known {
			m.order = append(m.order, msg.Job)
		}
		m.jobs[msg.Job] = msg.Snapshot
		return m, listenForUpdates(m.updates)
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC && !m.aborted {
			m.aborted = true
			if m.abort != nil {
				m.abort()
			}
		}
		return m, nil
	case logLine:
		return m, tea.Println(string(msg))
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

// Overall is the mean progress of all jobs; finished jobs count as complete.
func (m Model) Overall() float64 {
	if len(m.order) == 0 {
		return 0
	}
	sum := 0.0
	for _, name := range m.order {
		s := m.jobs[name]
		switch s.Stage {
		case staged.Complete, staged.Error:
			sum += 100
		default:
			sum += s.Progress
		}
	}
	return sum / float64(len(m.order))
}

func (m Model) counts() (done, failed int) {
	for _, s := range m.jobs {
		switch s.Stage {
		case staged.Complete:
			done++
		case staged.Error:
			failed++
		}
	}
	return done, failed
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = min(60, max(20, m.width-10))
	}

	done, failed := m.counts()
	elapsed := time.Since(m.started).Round(time.Millisecond)

	lines := []string{
		titleStyle.Render(m.title),
		labelStyle.Render(fmt.Sprintf("Files: %d/%d", done, len(m.order))) + dimStyle.Render(fmt.Sprintf("  errors:%d", failed)),
	}
	for i, name := range m.order {
		if i == maxRows {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("  ... %d more", len(m.order)-maxRows)))
			break
		}
		lines = append(lines, renderJob(name, m.jobs[name]))
	}
	lines = append(lines,
		barStyle.Render(renderBar(barWidth, m.Overall()/100))+dimStyle.Render(fmt.Sprintf(" %5.1f%%", m.Overall())),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
	)
	if m.aborted {
		lines = append(lines, warnStyle.Render("Cancelling..."))
	}

	return strings.Join(lines, "\n")
}

func renderJob(name string, s staged.Snapshot) string {
	status := dimStyle
	switch s.Stage {
	case staged.Complete:
		status = successStyle
	case staged.Error:
		status = errorStyle
	case staged.Idle:
		if s.Message == staged.MessageCancelled {
			status = warnStyle
		}
	}
	msg := s.Message
	if s.Stage == staged.Idle && msg == "" {
		msg = "waiting"
	}
	return fmt.Sprintf("  %s %s %s",
		labelStyle.Render(name),
		status.Render(fmt.Sprintf("[%s %3.0f%%]", s.Stage, s.Progress)),
		dimStyle.Render(msg),
	)
}

func listenForUpdates(updates <-chan Update) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
