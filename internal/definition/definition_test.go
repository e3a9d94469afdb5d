package definition

import (
	"strings"
	"testing"

	"github.com/wforney/corewf-sub005/internal/activities"
	"github.com/wforney/corewf-sub005/internal/engine"
)

const approvalYAML = `
name: approval-flow
variables:
  - name: amount
    type: int
    default: "250"
  - name: verdict
    type: string
root:
  kind: sequence
  name: main
  children:
    - kind: if
      name: triage
      condition: "amount > 100"
      then:
        kind: receive
        name: wait-approval
        bookmark: approval
        to: verdict
      else:
        kind: assign
        name: auto-approve
        to: verdict
        value: '"approved"'
    - kind: compute
      name: summary
      expression: "amount * 2"
      result: int
`

func TestParseAndBuild(t *testing.T) {
	def, err := Parse([]byte(approvalYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Name != "approval-flow" {
		t.Fatalf("wrong name: %s", def.Name)
	}
	root, err := Builtin().Build(def)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if root.Name() != "approval-flow" {
		t.Fatalf("wrong root name: %s", root.Name())
	}

	eng, err := engine.New(root)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != engine.StatusIdle {
		t.Fatalf("expected suspension at approval, got %s (%v)", outcome.Status, outcome.Fault)
	}
	if got := eng.Bookmarks(); len(got) != 1 || got[0] != "approval" {
		t.Fatalf("expected approval bookmark, got %v", got)
	}
	outcome, err = eng.DeliverInput("approval", "granted")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome.Status != engine.StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", outcome.Status, outcome.Fault)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	bad := strings.Replace(approvalYAML, "type: int", "type: decimal", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestParseRequiresName(t *testing.T) {
	bad := strings.Replace(approvalYAML, "name: approval-flow", "name: \"\"", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected missing name error")
	}
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	def, err := Parse([]byte(approvalYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def.Root.Children[0].Kind = "approve-magically"
	if _, err := Builtin().Build(def); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	r := Builtin()
	if err := r.Register("sequence", buildSequence); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestBuiltinKindsSorted(t *testing.T) {
	kinds := Builtin().Kinds()
	want := []string{"assign", "compute", "if", "parallel", "receive", "sequence", "transaction", "while", "writeline"}
	if len(kinds) != len(want) {
		t.Fatalf("kinds: %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds: %v", kinds)
		}
	}
}

func TestEmptySequenceBuilds(t *testing.T) {
	def, err := Parse([]byte("name: noop\nroot:\n  kind: sequence\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root, err := Builtin().Build(def)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := root.(*activities.Sequence); !ok {
		t.Fatalf("expected sequence, got %T", root)
	}
}
