// ABOUTME: Bubbletea model for recorder TUI
// ABOUTME: Shows per-session capture state and live counters
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// SessionStatus is one session's line in the status view.
type SessionStatus struct {
	Label    string
	Path     string
	Running  bool
	Chunks   uint64
	Dropped  uint64
	Duration time.Duration
	Err      string
}

// StatusMsg updates the TUI with the latest session snapshots.
type StatusMsg struct {
	Tap    SessionStatus
	Device SessionStatus
}

// StopMsg is emitted through Control when the user requests stop.
type StopMsg struct{}

// QuitMsg is emitted through Control when the user quits.
type QuitMsg struct{}

// Control carries user intents from the TUI back to the recorder.
type Control struct {
	Stop chan StopMsg
	Quit chan QuitMsg
}

// NewControl creates the control channels.
func NewControl() *Control {
	return &Control{
		Stop: make(chan StopMsg, 1),
		Quit: make(chan QuitMsg, 1),
	}
}

// Model represents the TUI state.
type Model struct {
	tap     SessionStatus
	device  SessionStatus
	control *Control
	stopped bool
	width   int
	height  int
}

// NewModel creates a new TUI model.
func NewModel(control *Control) Model {
	return Model{control: control}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			select {
			case m.control.Quit <- QuitMsg{}:
			default:
			}
			return m, tea.Quit
		case "s":
			if !m.stopped {
				m.stopped = true
				select {
				case m.control.Stop <- StopMsg{}:
				default:
				}
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.tap = msg.Tap
		m.device = msg.Device
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := "┌─ Tapdeck ────────────────────────────────────────────┐\n"
	s += renderSession(m.tap)
	s += renderSession(m.device)
	s += "├──────────────────────────────────────────────────────┤\n"
	s += "│ [s] stop recording   [q] quit                        │\n"
	s += "└──────────────────────────────────────────────────────┘\n"
	return s
}

func renderSession(st SessionStatus) string {
	state := "idle"
	if st.Running {
		state = "recording"
	}
	line := fmt.Sprintf("│ %-7s %-9s %8s  %6d chunks  %4d drop  │\n",
		st.Label, state, formatDuration(st.Duration), st.Chunks, st.Dropped)
	if st.Err != "" {
		line += fmt.Sprintf("│   last error: %-38s │\n", truncate(st.Err, 38))
	}
	return line
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
