package tui

import (
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

type logLine string

// LogWriter carries log output while a progress view owns the terminal.
// Lines written while a program is attached are printed above the view;
// otherwise they go to Fallback.
type LogWriter struct {
	Fallback io.Writer

	mu      sync.Mutex
	program *tea.Program
}

func (w *LogWriter) Attach(p *tea.Program) {
	w.mu.Lock()
	w.program = p
	w.mu.Unlock()
}

func (w *LogWriter) Detach() {
	w.Attach(nil)
}

func (w *LogWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.program == nil {
		if w.Fallback == nil {
			return len(b), nil
		}
		return w.Fallback.Write(b)
	}
	// Send returns once the program has exited, so a late line never blocks.
	w.program.Send(logLine(strings.TrimRight(string(b), "\n")))
	return len(b), nil
}
