// ABOUTME: Bubbletea model for the stream monitor
// ABOUTME: Holds receiver and player statistics and renders them with lipgloss
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pcmstream/pcmstream-go/internal/version"
)

// StreamInfo is the static description of the running pipeline
type StreamInfo struct {
	Source            string
	Sink              string
	Device            string
	Output            string
	SampleRate        int
	SamplesPerMessage int
	FrameCount        int
	RunTime           time.Duration
}

// StatusMsg carries a statistics snapshot
type StatusMsg struct {
	// Receiver
	Datagrams    int64
	Bytes        int64
	Malformed    int64
	SequenceGaps int64
	LastSender   string

	// Player
	Playing      bool
	Frames       int64
	Underruns    int64
	QueueDepth   int
	Threshold    int
	Leftover     int
	LastActivity time.Time

	// Sinks
	TapClients     int
	CaptureSamples int64
}

type tickMsg time.Time

// Model represents the TUI state
type Model struct {
	info      StreamInfo
	status    StatusMsg
	startTime time.Time
	now       time.Time

	showDebug bool
	quitting  bool
	quitChan  chan struct{}

	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel(info StreamInfo, quitChan chan struct{}) Model {
	now := time.Now()
	return Model{
		info:      info,
		startTime: now,
		now:       now,
		quitChan:  quitChan,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.now = time.Time(msg)
		return m, tickEvery()
	case StatusMsg:
		m.status = msg
	}

	return m, nil
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		select {
		case m.quitChan <- struct{}{}:
		default:
		}
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping stream...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(version.String() + " monitor"))
	b.WriteString("\n\n")

	field(&b, "Source: ", m.info.Source)
	if m.info.Device != "" {
		field(&b, "Device: ", m.info.Device)
	}
	field(&b, "Sink:   ", m.info.Sink)
	field(&b, "Output: ", m.info.Output)
	field(&b, "Format: ", fmt.Sprintf("%dHz L16 mono, %d samples/message, %d samples/frame",
		m.info.SampleRate, m.info.SamplesPerMessage, m.info.FrameCount))
	field(&b, "Uptime: ", m.uptime())
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Receiver"))
	b.WriteString("\n")
	field(&b, "  Datagrams: ", fmt.Sprintf("%d (%s)", m.status.Datagrams, formatBytes(m.status.Bytes)))
	field(&b, "  Malformed: ", counter(m.status.Malformed))
	field(&b, "  Seq gaps:  ", counter(m.status.SequenceGaps))
	if m.status.LastSender != "" {
		field(&b, "  Sender:    ", m.status.LastSender)
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Player"))
	b.WriteString("\n")
	state := "pre-buffering"
	if m.status.Playing {
		state = "playing"
	}
	field(&b, "  State:     ", state)
	field(&b, "  Buffer:    ", fmt.Sprintf("[%s] %d/%d messages",
		renderBar(m.status.QueueDepth, m.status.Threshold, 20), m.status.QueueDepth, m.status.Threshold))
	field(&b, "  Frames:    ", fmt.Sprintf("%d", m.status.Frames))
	field(&b, "  Underruns: ", counter(m.status.Underruns))

	if m.status.TapClients > 0 || m.status.CaptureSamples > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Sinks"))
		b.WriteString("\n")
		field(&b, "  Tap clients: ", fmt.Sprintf("%d", m.status.TapClients))
		field(&b, "  Captured:    ", fmt.Sprintf("%d samples", m.status.CaptureSamples))
	}

	if m.showDebug {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Debug"))
		b.WriteString("\n")
		field(&b, "  Leftover:      ", fmt.Sprintf("%d bytes", m.status.Leftover))
		last := "never"
		if !m.status.LastActivity.IsZero() {
			last = m.now.Sub(m.status.LastActivity).Round(time.Millisecond).String() + " ago"
		}
		field(&b, "  Last activity: ", last)
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("d: debug  q/Ctrl+C: quit"))

	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func (m Model) uptime() string {
	up := m.now.Sub(m.startTime).Round(time.Second)
	if up < 0 {
		up = 0
	}
	if m.info.RunTime > 0 {
		return fmt.Sprintf("%s / %s", up, m.info.RunTime)
	}
	return up.String()
}

// counter highlights non-zero error counters
func counter(v int64) string {
	s := fmt.Sprintf("%d", v)
	if v > 0 {
		return warnStyle.Render(s)
	}
	return s
}

// Utility functions
func renderBar(value, max, width int) string {
	if max <= 0 {
		return strings.Repeat("░", width)
	}
	filled := (value * width) / max
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
