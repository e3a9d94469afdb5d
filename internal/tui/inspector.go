// Package tui is the interactive run inspector. It uses bubbletea,
// which follows The Elm Architecture: the model holds all state, Update
// folds messages into a new model, and View renders it to a string.
//
// The inspector owns the engine for the duration of the session; every
// engine call happens on the Update goroutine, which preserves the
// scheduler's single thread of control.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wforney/corewf-sub005/internal/engine"
)

type inspectorMode int

const (
	modeViewing inspectorMode = iota
	modePickBookmark
	modeEnterValue
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	faintStyle    = lipgloss.NewStyle().Faint(true)
	closedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	faultedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	canceledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	waitingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	helpStyle     = lipgloss.NewStyle().Faint(true).MarginTop(1)
)

// Inspector is the bubbletea model for one engine session.
type Inspector struct {
	eng     *engine.Engine
	outcome engine.Outcome
	started bool
	err     error

	mode     inspectorMode
	bookmark string
	input    textinput.Model
}

// New builds an inspector around an engine that has not started yet.
func New(eng *engine.Engine) *Inspector {
	ti := textinput.New()
	ti.CharLimit = 120
	return &Inspector{eng: eng, input: ti}
}

// Run starts the interactive session and blocks until it exits.
func Run(eng *engine.Engine) error {
	_, err := tea.NewProgram(New(eng), tea.WithAltScreen()).Run()
	return err
}

// Init implements tea.Model.
func (m *Inspector) Init() tea.Cmd {
	return func() tea.Msg { return startMsg{} }
}

type startMsg struct{}

type outcomeMsg struct {
	outcome engine.Outcome
	err     error
}

// Update implements tea.Model.
func (m *Inspector) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case startMsg:
		outcome, err := m.eng.Run()
		m.started = true
		return m.applyOutcome(outcome, err)
	case outcomeMsg:
		return m.applyOutcome(msg.outcome, msg.err)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Inspector) applyOutcome(outcome engine.Outcome, err error) (tea.Model, tea.Cmd) {
	m.outcome = outcome
	m.err = err
	if outcome.Status != engine.StatusIdle {
		m.mode = modeViewing
	}
	return m, nil
}

func (m *Inspector) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode != modeViewing {
		return m.handleInputKey(msg)
	}
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "c":
		outcome, err := m.eng.Cancel()
		return m.applyOutcome(outcome, err)
	case "i":
		bookmarks := m.eng.Bookmarks()
		if len(bookmarks) == 0 {
			m.err = fmt.Errorf("no open bookmarks")
			return m, nil
		}
		if len(bookmarks) == 1 {
			return m.promptValue(bookmarks[0])
		}
		m.mode = modePickBookmark
		m.input.Placeholder = strings.Join(bookmarks, ", ")
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

func (m *Inspector) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeViewing
		m.input.Blur()
		return m, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		if m.mode == modePickBookmark {
			return m.promptValue(value)
		}
		m.mode = modeViewing
		m.input.Blur()
		outcome, err := m.eng.DeliverInput(m.bookmark, value)
		return m.applyOutcome(outcome, err)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Inspector) promptValue(bookmark string) (tea.Model, tea.Cmd) {
	m.bookmark = bookmark
	m.mode = modeEnterValue
	m.input.Placeholder = "value for " + bookmark
	m.input.SetValue("")
	m.input.Focus()
	return m, textinput.Blink
}

// View implements tea.Model.
func (m *Inspector) View() string {
	var b strings.Builder

	title := "corewf"
	if m.started {
		title = fmt.Sprintf("corewf · %s · %s", m.eng.RunID(), m.outcome.Status)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	for _, view := range m.eng.Instances() {
		indent := strings.Repeat("  ", view.Depth)
		line := fmt.Sprintf("%s%s %s", indent, view.Activity, renderSubstate(view))
		if view.Bookmark != "" {
			line += waitingStyle.Render(fmt.Sprintf("  ⏸ %s", view.Bookmark))
		}
		if view.Error != "" {
			line += faultedStyle.Render("  " + view.Error)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(faultedStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}

	switch m.mode {
	case modePickBookmark:
		b.WriteString("\nbookmark: " + m.input.View() + "\n")
	case modeEnterValue:
		b.WriteString("\n" + m.bookmark + ": " + m.input.View() + "\n")
	default:
		b.WriteString(helpStyle.Render("i deliver input · c cancel · q quit"))
	}
	return b.String()
}

func renderSubstate(view engine.NodeView) string {
	label := string(view.Substate)
	switch view.Substate {
	case engine.SubstateClosed:
		return closedStyle.Render(label)
	case engine.SubstateFaulted:
		return faultedStyle.Render(label)
	case engine.SubstateCanceled, engine.SubstateCanceling:
		return canceledStyle.Render(label)
	default:
		return faintStyle.Render(label)
	}
}
