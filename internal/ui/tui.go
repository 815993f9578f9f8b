// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it statistics snapshots
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Monitor manages the stream monitor TUI
type Monitor struct {
	program  *tea.Program
	updates  chan StatusMsg
	quitChan chan struct{}
}

// NewMonitor creates a monitor for the described stream
func NewMonitor(info StreamInfo, opts ...tea.ProgramOption) *Monitor {
	quit := make(chan struct{}, 1)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &Monitor{
		program:  tea.NewProgram(NewModel(info, quit), opts...),
		updates:  make(chan StatusMsg, 10),
		quitChan: quit,
	}
}

// Run starts the TUI and blocks until it exits
func (t *Monitor) Run() error {
	go func() {
		for status := range t.updates {
			t.program.Send(status)
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *Monitor) Update(status StatusMsg) {
	select {
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Quit is signalled when the user asks to quit
func (t *Monitor) Quit() <-chan struct{} {
	return t.quitChan
}

// Stop stops the TUI
func (t *Monitor) Stop() {
	t.program.Quit()
}
