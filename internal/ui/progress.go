package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// ItemStartedMsg marks a batch item as running.
type ItemStartedMsg struct {
	Index int
}

// ItemDoneMsg reports a finished batch item.
type ItemDoneMsg struct {
	Index   int
	Err     error
	Elapsed time.Duration
}

type itemState int

const (
	itemPending itemState = iota
	itemRunning
	itemOK
	itemFailed
)

type batchItem struct {
	label   string
	state   itemState
	err     error
	elapsed time.Duration
}

// BatchModel is the bubbletea model behind the batch progress view.
type BatchModel struct {
	items    []batchItem
	done     int
	failed   int
	spinner  spinner.Model
	bar      progress.Model
	quitting bool
}

// NewBatchModel returns a model tracking one line per label.
func NewBatchModel(labels []string) BatchModel {
	items := make([]batchItem, len(labels))
	for i, l := range labels {
		items[i] = batchItem{label: l}
	}
	return BatchModel{
		items:   items,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m BatchModel) Init() tea.Cmd {
	if m.Finished() {
		return tea.Quit
	}
	return m.spinner.Tick
}

func (m BatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case ItemStartedMsg:
		if m.valid(msg.Index) && m.items[msg.Index].state == itemPending {
			m.items[msg.Index].state = itemRunning
		}

	case ItemDoneMsg:
		if !m.valid(msg.Index) {
			return m, nil
		}
		it := &m.items[msg.Index]
		if it.state == itemOK || it.state == itemFailed {
			return m, nil
		}
		it.elapsed = msg.Elapsed
		it.err = msg.Err
		it.state = itemOK
		if msg.Err != nil {
			it.state = itemFailed
			m.failed++
		}
		m.done++
		if m.Finished() {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m BatchModel) View() string {
	var b strings.Builder
	for _, it := range m.items {
		switch it.state {
		case itemPending:
			b.WriteString(pendingStyle.Render("  · " + it.label))
		case itemRunning:
			b.WriteString(m.spinner.View() + " " + it.label)
		case itemOK:
			b.WriteString(okStyle.Render("  ✓ ") + it.label + helpStyle.Render(" "+it.elapsed.Round(time.Millisecond).String()))
		case itemFailed:
			b.WriteString(errorStyle.Render("  ✗ "+it.label) + helpStyle.Render(" "+it.err.Error()))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	fmt.Fprintf(&b, "  %d/%d", m.done, len(m.items))
	if m.failed > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("  %d failed", m.failed)))
	}
	if !m.Finished() && !m.quitting {
		b.WriteString(helpStyle.Render("\nctrl+c to stop"))
	}
	b.WriteString("\n")
	return b.String()
}

// Percent is the completed fraction.
func (m BatchModel) Percent() float64 {
	if len(m.items) == 0 {
		return 1
	}
	return float64(m.done) / float64(len(m.items))
}

// Finished reports whether every item has reported.
func (m BatchModel) Finished() bool {
	return m.done == len(m.items)
}

// Failed returns the number of failed items.
func (m BatchModel) Failed() int {
	return m.failed
}

// Interrupted reports whether the user quit before the batch finished.
func (m BatchModel) Interrupted() bool {
	return m.quitting
}

func (m BatchModel) valid(i int) bool {
	return i >= 0 && i < len(m.items)
}

// BatchView runs a BatchModel on a terminal. Workers report through Started
// and Done from any goroutine.
type BatchView struct {
	program *tea.Program
}

// NewBatchView prepares a view writing to out.
func NewBatchView(labels []string, out io.Writer) *BatchView {
	p := tea.NewProgram(NewBatchModel(labels), tea.WithOutput(out))
	return &BatchView{program: p}
}

// Started marks item i as running.
func (v *BatchView) Started(i int) {
	v.program.Send(ItemStartedMsg{Index: i})
}

// Done reports item i as finished.
func (v *BatchView) Done(i int, err error, elapsed time.Duration) {
	v.program.Send(ItemDoneMsg{Index: i, Err: err, Elapsed: elapsed})
}

// Run blocks until every item reported or the user interrupted. The
// returned bool is true on interruption.
func (v *BatchView) Run() (bool, error) {
	final, err := v.program.Run()
	if err != nil {
		return false, err
	}
	m, ok := final.(BatchModel)
	return ok && m.Interrupted(), nil
}
