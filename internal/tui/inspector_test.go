package tui

import (
	"reflect"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wforney/corewf-sub005/internal/activities"
	"github.com/wforney/corewf-sub005/internal/activity"
	"github.com/wforney/corewf-sub005/internal/engine"
)

func newTestInspector(t *testing.T) *Inspector {
	t.Helper()
	root := activities.NewSequence("root",
		activities.NewReceive("wait", "approval", activities.WriteTo("verdict")),
	)
	root.AddVariables(activity.VariableDecl{Name: "verdict", Type: reflect.TypeOf("")})
	eng, err := engine.New(root)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	m := New(eng)
	model, _ := m.Update(startMsg{})
	return model.(*Inspector)
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestViewShowsSuspendedTree(t *testing.T) {
	m := newTestInspector(t)
	view := m.View()
	if !strings.Contains(view, "idle") {
		t.Fatalf("expected idle status in view:\n%s", view)
	}
	if !strings.Contains(view, "approval") {
		t.Fatalf("expected bookmark in view:\n%s", view)
	}
	if !strings.Contains(view, "wait") {
		t.Fatalf("expected node names in view:\n%s", view)
	}
}

func TestDeliverInputFlow(t *testing.T) {
	m := newTestInspector(t)

	model, _ := m.Update(keyMsg("i"))
	m = model.(*Inspector)
	if m.mode != modeEnterValue {
		t.Fatalf("expected value prompt for the only bookmark, got mode %d", m.mode)
	}
	for _, r := range "granted" {
		model, _ = m.Update(keyMsg(string(r)))
		m = model.(*Inspector)
	}
	model, _ = m.Update(keyMsg("enter"))
	m = model.(*Inspector)

	if m.err != nil {
		t.Fatalf("deliver input failed: %v", m.err)
	}
	if m.outcome.Status != engine.StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", m.outcome.Status, m.outcome.Fault)
	}
	if !strings.Contains(m.View(), "completed") {
		t.Fatalf("expected completed status in view:\n%s", m.View())
	}
}

func TestCancelKeyCancelsRun(t *testing.T) {
	m := newTestInspector(t)
	model, _ := m.Update(keyMsg("c"))
	m = model.(*Inspector)
	if m.outcome.Status != engine.StatusCanceled {
		t.Fatalf("expected canceled, got %s", m.outcome.Status)
	}
}

func TestEscapeLeavesInputMode(t *testing.T) {
	m := newTestInspector(t)
	model, _ := m.Update(keyMsg("i"))
	m = model.(*Inspector)
	model, _ = m.Update(keyMsg("esc"))
	m = model.(*Inspector)
	if m.mode != modeViewing {
		t.Fatalf("expected viewing mode after esc, got %d", m.mode)
	}
}
