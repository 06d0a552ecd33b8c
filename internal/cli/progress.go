package cli

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/studiowebux/asynchttp/internal/output"
	"github.com/studiowebux/asynchttp/internal/types"
)

var (
	spinnerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// counters are written from the engine loop and read by the view
type counters struct {
	sent     atomic.Uint64
	received atomic.Uint64
}

type progressDoneMsg struct{}

type progressModel struct {
	spinner  spinner.Model
	label    string
	counters *counters
	done     bool
}

func newProgressModel(label string, c *counters) progressModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))
	return progressModel{spinner: s, label: label, counters: c}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	stats := fmt.Sprintf("sent %s  received %s",
		output.FormatSize(m.counters.sent.Load()),
		output.FormatSize(m.counters.received.Load()))
	return fmt.Sprintf("%s %s  %s\n", m.spinner.View(), m.label, progressStyle.Render(stats))
}

// Progress draws a spinner with byte counters until stopped
type Progress struct {
	program  *tea.Program
	counters *counters
	done     chan struct{}
}

// StartProgress starts drawing on w
func StartProgress(label string, w io.Writer) *Progress {
	c := &counters{}
	p := &Progress{
		counters: c,
		done:     make(chan struct{}),
		program: tea.NewProgram(newProgressModel(label, c),
			tea.WithOutput(w),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
	}
	go func() {
		defer close(p.done)
		p.program.Run()
	}()
	return p
}

// Update records a progress callback from the engine. It never blocks.
func (p *Progress) Update(dir types.Direction, total uint64) {
	switch dir {
	case types.Sent:
		p.counters.sent.Store(total)
	case types.Received:
		p.counters.received.Store(total)
	}
}

// Stop clears the spinner and waits for the program to exit
func (p *Progress) Stop() {
	p.program.Send(progressDoneMsg{})
	<-p.done
}
