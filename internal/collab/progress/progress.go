// Package progress is the user-visible progress reporter collaborator: a
// scoped acquisition exposing Update(amount) and iteration over a finite
// sequence with automatic per-item updates. The core only ever sees the
// Reporter interface through stage.ExecuteContext.Progress; the rendering
// choice (interactive TUI vs. plain log lines) is entirely the
// collaborator's concern.
//
// The TTY-detection branch picks a bubbletea program when
// term.IsTerminal(os.Stdout.Fd()) and falls back to non-interactive output
// otherwise; the bar itself reuses bubbles/progress directly.
package progress

import (
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Reporter is the scoped progress handle a stage acquires via
// stage.ExecuteContext.Progress and releases by calling Close.
type Reporter interface {
	// Update advances the reporter by amount.
	Update(amount int)

	// Iterate walks items, calling fn for each and advancing the reporter
	// by one automatically after fn returns.
	Iterate(items []interface{}, fn func(item interface{}) error) error

	// Close releases the reporter's resources.
	Close()
}

// Factory constructs a Reporter scoped to one progress(...) call, labeled
// and sized to total expected units of work.
type Factory interface {
	Acquire(label string, total int) Reporter
}

// TerminalFactory picks an interactive bubbletea bar when stdout is a TTY
// and a line-oriented zerolog fallback otherwise.
type TerminalFactory struct {
	Logger zerolog.Logger
}

func (f TerminalFactory) Acquire(label string, total int) Reporter {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return newBarReporter(label, total)
	}
	return newLogReporter(f.Logger, label, total)
}

// logReporter renders progress as periodic zerolog info lines, used for
// non-interactive runs (CI, piped output).
type logReporter struct {
	mu     sync.Mutex
	logger zerolog.Logger
	label  string
	total  int
	done   int
}

func newLogReporter(logger zerolog.Logger, label string, total int) *logReporter {
	return &logReporter{logger: logger, label: label, total: total}
}

func (r *logReporter) Update(amount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done += amount
	r.logger.Info().Str("stage_progress", r.label).Int("done", r.done).Int("total", r.total).Msg("progress")
}

func (r *logReporter) Iterate(items []interface{}, fn func(item interface{}) error) error {
	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
		r.Update(1)
	}
	return nil
}

func (r *logReporter) Close() {}

// barReporter drives a bubbletea program rendering bubbles/progress, used
// for interactive TTY runs.
type barReporter struct {
	mu      sync.Mutex
	program *tea.Program
	total   int
	done    int
}

type barModel struct {
	bar   progress.Model
	total int
	done  int
}

type barUpdateMsg struct{ done int }

func newBarReporter(label string, total int) *barReporter {
	m := barModel{bar: progress.New(progress.WithDefaultGradient()), total: total}
	p := tea.NewProgram(m)
	r := &barReporter{program: p, total: total}
	go func() { _, _ = p.Run() }()
	return r
}

func (r *barReporter) Update(amount int) {
	r.mu.Lock()
	r.done += amount
	done := r.done
	r.mu.Unlock()
	if r.program != nil {
		r.program.Send(barUpdateMsg{done: done})
	}
}

func (r *barReporter) Iterate(items []interface{}, fn func(item interface{}) error) error {
	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
		r.Update(1)
	}
	return nil
}

func (r *barReporter) Close() {
	if r.program != nil {
		r.program.Send(tea.QuitMsg{})
	}
}

func (m barModel) Init() tea.Cmd { return nil }

func (m barModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case barUpdateMsg:
		m.done = msg.done
		if m.total > 0 {
			cmd := m.bar.SetPercent(float64(m.done) / float64(m.total))
			return m, cmd
		}
		return m, nil
	case progress.FrameMsg:
		newModel, cmd := m.bar.Update(msg)
		m.bar = newModel.(progress.Model)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m barModel) View() string {
	return fmt.Sprintf("%s %d/%d\n", m.bar.View(), m.done, m.total)
}

// MockFactory returns a no-op Reporter, used by tests and by stages running
// under the mock worker pool where no user is watching a terminal.
type MockFactory struct{}

func (MockFactory) Acquire(label string, total int) Reporter { return noopReporter{} }

type noopReporter struct{}

func (noopReporter) Update(amount int) {}

func (noopReporter) Iterate(items []interface{}, fn func(item interface{}) error) error {
	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func (noopReporter) Close() {}
