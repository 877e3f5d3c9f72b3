// Package ui renders a live view of a running guest.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"tidal/internal/host"
)

// maxLog bounds the message log kept on screen.
const maxLog = 10

// Event is one update for the monitor: a driver status, an outbound
// message line, or both.
type Event struct {
	Status  *host.Status
	Message string
}

type monitorModel struct {
	title       string
	events      <-chan Event
	spinner     spinner.Model
	prog        progress.Model
	maxChannels int
	status      host.Status
	log         []string
	width       int
	done        bool
}

type eventMsg Event
type doneMsg struct{}

// NewMonitorModel returns a Bubble Tea model that renders driver status and
// the most recent guest messages. The program quits when events is closed.
func NewMonitorModel(title string, maxChannels int, events <-chan Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	if maxChannels <= 0 {
		maxChannels = 1
	}
	return &monitorModel{
		title:       title,
		events:      events,
		spinner:     sp,
		prog:        prog,
		maxChannels: maxChannels,
		width:       80,
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *monitorModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := fmt.Sprintf("%s (%s)", m.title, stateLabel(m.status))
	if m.done {
		header = fmt.Sprintf("done: %s", m.title)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	st := m.status.Stats
	fmt.Fprintf(&b, "  polls %d  wakes %d  yields %d  delivered %d  rejected %d  sent %d\n",
		m.status.Polls, st.WakeSignals, st.YieldRaised, st.Deliveries, st.Rejected, st.Sent)
	fmt.Fprintf(&b, "  channels %d/%d  queued %d\n\n", len(m.status.Channels), m.maxChannels, m.status.Pending)

	lineWidth := m.width - 4
	if lineWidth < 20 {
		lineWidth = 20
	}
	for _, line := range m.log {
		b.WriteString("  ")
		b.WriteString(styleLine(line).Render(truncate(line, lineWidth)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *monitorModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

// applyEvent folds ev into the model. The bar shows channel table occupancy.
func (m *monitorModel) applyEvent(ev Event) tea.Cmd {
	if ev.Message != "" {
		m.log = append(m.log, ev.Message)
		if len(m.log) > maxLog {
			m.log = m.log[len(m.log)-maxLog:]
		}
	}
	if ev.Status == nil {
		return nil
	}
	m.status = *ev.Status
	pct := float64(len(m.status.Channels)) / float64(m.maxChannels)
	if pct > 1 {
		pct = 1
	}
	return m.prog.SetPercent(pct)
}

func stateLabel(st host.Status) string {
	switch {
	case st.Polls == 0:
		return "starting"
	case st.Idle:
		return "idle"
	case st.LastHint == 0:
		return "busy"
	default:
		return "sleeping " + st.LastHint.Round(time.Microsecond).String()
	}
}

func styleLine(line string) lipgloss.Style {
	switch {
	case strings.Contains(line, " bye"), strings.Contains(line, " hello"):
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case strings.Contains(line, " tick"):
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	case strings.HasPrefix(line, "!"):
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
