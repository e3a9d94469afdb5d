package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wforney/corewf-sub005/internal/activity"
)

type stubLeaf struct {
	activity.Base
	run func(ctx activity.Context) (activity.Outcome, error)
}

func (s *stubLeaf) Execute(ctx activity.Context) (activity.Outcome, error) {
	if s.run == nil {
		return activity.OutcomeCompleted, nil
	}
	return s.run(ctx)
}

type stubResult struct {
	stubLeaf
	typ reflect.Type
}

func (s *stubResult) ResultType() reflect.Type { return s.typ }

type stubParent struct {
	activity.Base
	children []activity.Activity
	onStart  func(ctx activity.Context) (activity.Outcome, error)
	onChild  func(ctx activity.Context, child activity.Activity, result any) (activity.Outcome, error)
}

func (s *stubParent) Children() []activity.Activity { return s.children }

func (s *stubParent) Execute(ctx activity.Context) (activity.Outcome, error) {
	if s.onStart != nil {
		return s.onStart(ctx)
	}
	for _, child := range s.children {
		if err := ctx.ScheduleChild(child); err != nil {
			return 0, err
		}
	}
	return activity.OutcomePending, nil
}

func (s *stubParent) ChildCompleted(ctx activity.Context, child activity.Activity, result any) (activity.Outcome, error) {
	if s.onChild == nil {
		return activity.OutcomePending, nil
	}
	return s.onChild(ctx, child, result)
}

type faultParent struct {
	stubParent
	onFault func(ctx activity.Context, child activity.Activity, fault error) (bool, activity.Outcome, error)
}

func (f *faultParent) ChildFaulted(ctx activity.Context, child activity.Activity, fault error) (bool, activity.Outcome, error) {
	if f.onFault == nil {
		return false, 0, nil
	}
	return f.onFault(ctx, child, fault)
}

type bookmarkLeaf struct {
	activity.Base
	bookmark string
	got      []any
}

func (b *bookmarkLeaf) Execute(ctx activity.Context) (activity.Outcome, error) {
	if err := ctx.CreateBookmark(b.bookmark); err != nil {
		return 0, err
	}
	return activity.OutcomeAwaitingInput, nil
}

func (b *bookmarkLeaf) InputReceived(_ activity.Context, _ string, value any) (activity.Outcome, error) {
	b.got = append(b.got, value)
	return activity.OutcomeCompleted, nil
}

type memoryStore struct {
	snap Snapshot
	ok   bool
}

func (m *memoryStore) Load() (Snapshot, error) {
	if !m.ok {
		return Snapshot{}, ErrStateNotFound
	}
	return m.snap, nil
}

func (m *memoryStore) Save(snap Snapshot) error {
	m.snap, m.ok = snap, true
	return nil
}

func testClock() func() time.Time {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func leaf(name string) *stubLeaf {
	return &stubLeaf{Base: activity.NewBase(name)}
}

func resultLeaf(name string, typ reflect.Type, value any) *stubResult {
	r := &stubResult{stubLeaf: stubLeaf{Base: activity.NewBase(name)}, typ: typ}
	r.run = func(ctx activity.Context) (activity.Outcome, error) {
		if err := ctx.SetResult(value); err != nil {
			return 0, err
		}
		return activity.OutcomeCompleted, nil
	}
	return r
}

func TestRunDeliversChildResultExactlyOnce(t *testing.T) {
	child := resultLeaf("seven", reflect.TypeOf(int(0)), 7)
	var results []any
	root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{child}}
	root.onChild = func(_ activity.Context, _ activity.Activity, result any) (activity.Outcome, error) {
		results = append(results, result)
		return activity.OutcomeCompleted, nil
	}
	eng, err := New(root, WithClock(testClock()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", outcome.Status, outcome.Fault)
	}
	if len(results) != 1 || results[0] != 7 {
		t.Fatalf("expected one delivery of 7, got %v", results)
	}
}

func TestIncompatibleResultFaultsParent(t *testing.T) {
	child := resultLeaf("odd", reflect.TypeOf(int(0)), struct{ X int }{X: 1})
	root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{child}}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != StatusFaulted {
		t.Fatalf("expected faulted, got %s", outcome.Status)
	}
	var incompatible *IncompatibleResultError
	if !errors.As(outcome.Fault, &incompatible) {
		t.Fatalf("expected IncompatibleResultError, got %v", outcome.Fault)
	}
}

func TestWorkItemsRunInOrder(t *testing.T) {
	var order []string
	mark := func(name string) *stubLeaf {
		l := leaf(name)
		l.run = func(activity.Context) (activity.Outcome, error) {
			order = append(order, name)
			return activity.OutcomeCompleted, nil
		}
		return l
	}
	a, b := mark("a"), mark("b")
	root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{a, b}}
	root.onStart = func(ctx activity.Context) (activity.Outcome, error) {
		order = append(order, "root")
		if err := ctx.ScheduleChild(a); err != nil {
			return 0, err
		}
		if err := ctx.ScheduleChild(b); err != nil {
			return 0, err
		}
		return activity.OutcomePending, nil
	}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"root", "a", "b"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("execution order mismatch (-want +got):\n%s", diff)
	}
}

func TestEnqueueOnTerminalNodeRejected(t *testing.T) {
	eng, err := New(leaf("only"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := eng.sched.Enqueue(eng.rootInstance, opExecute); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestUnhandledFaultReachesRootAndCancelsSiblings(t *testing.T) {
	boom := leaf("boom")
	boom.run = func(activity.Context) (activity.Outcome, error) {
		return 0, fmt.Errorf("exploded")
	}
	waiter := &bookmarkLeaf{Base: activity.NewBase("waiter"), bookmark: "hold"}
	root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{waiter, boom}}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != StatusFaulted {
		t.Fatalf("expected faulted, got %s", outcome.Status)
	}
	for _, view := range eng.Instances() {
		if !view.Substate.Terminal() {
			t.Fatalf("instance %s left non-terminal in %s", view.Activity, view.Substate)
		}
	}
	if len(eng.Bookmarks()) != 0 {
		t.Fatalf("expected bookmarks closed, got %v", eng.Bookmarks())
	}
}

func TestFaultHandledByParentContinuesRun(t *testing.T) {
	boom := leaf("boom")
	boom.run = func(activity.Context) (activity.Outcome, error) {
		return 0, fmt.Errorf("exploded")
	}
	root := &faultParent{stubParent: stubParent{Base: activity.NewBase("root"), children: []activity.Activity{boom}}}
	root.onFault = func(activity.Context, activity.Activity, error) (bool, activity.Outcome, error) {
		return true, activity.OutcomeCompleted, nil
	}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", outcome.Status, outcome.Fault)
	}
}

func TestHandledCaptureFaultLeavesSiblingRunning(t *testing.T) {
	bad := resultLeaf("bad", reflect.TypeOf(int(0)), struct{ X int }{X: 1})
	waiter := &bookmarkLeaf{Base: activity.NewBase("waiter"), bookmark: "hold"}
	root := &faultParent{stubParent: stubParent{Base: activity.NewBase("root"), children: []activity.Activity{bad, waiter}}}
	var faults []error
	root.onFault = func(_ activity.Context, _ activity.Activity, fault error) (bool, activity.Outcome, error) {
		faults = append(faults, fault)
		return true, activity.OutcomePending, nil
	}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != StatusIdle {
		t.Fatalf("expected idle while waiter suspends, got %s (%v)", outcome.Status, outcome.Fault)
	}
	if len(faults) != 1 {
		t.Fatalf("expected one handled fault, got %d", len(faults))
	}
	var incompatible *IncompatibleResultError
	if !errors.As(faults[0], &incompatible) {
		t.Fatalf("expected IncompatibleResultError, got %v", faults[0])
	}
	if got := eng.Bookmarks(); len(got) != 1 || got[0] != "hold" {
		t.Fatalf("expected the sibling bookmark to stay open, got %v", got)
	}
	for _, view := range eng.Instances() {
		switch view.Activity {
		case "root", "waiter":
			if view.Substate != SubstateExecuting {
				t.Fatalf("%s should still be executing, got %s", view.Activity, view.Substate)
			}
		}
	}
	outcome, err = eng.DeliverInput("hold", "go")
	if err != nil {
		t.Fatalf("deliver input: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("expected completed after input, got %s (%v)", outcome.Status, outcome.Fault)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	waiter := &bookmarkLeaf{Base: activity.NewBase("waiter"), bookmark: "hold"}
	root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{waiter}}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != StatusIdle {
		t.Fatalf("expected idle, got %s", outcome.Status)
	}
	first, err := eng.Cancel()
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.Status != StatusCanceled {
		t.Fatalf("expected canceled, got %s", first.Status)
	}
	second, err := eng.Cancel()
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if second.Status != StatusCanceled {
		t.Fatalf("second cancel changed outcome: %s", second.Status)
	}
	for _, view := range eng.Instances() {
		if !view.Substate.Terminal() {
			t.Fatalf("instance %s left non-terminal in %s", view.Activity, view.Substate)
		}
	}
}

func TestDeliverInputResumesBookmark(t *testing.T) {
	waiter := &bookmarkLeaf{Base: activity.NewBase("waiter"), bookmark: "approval"}
	root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{waiter}}
	root.onChild = func(activity.Context, activity.Activity, any) (activity.Outcome, error) {
		return activity.OutcomeCompleted, nil
	}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"approval"}, eng.Bookmarks()); diff != "" {
		t.Fatalf("bookmarks mismatch (-want +got):\n%s", diff)
	}
	outcome, err := eng.DeliverInput("approval", "granted")
	if err != nil {
		t.Fatalf("deliver input: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", outcome.Status, outcome.Fault)
	}
	if len(waiter.got) != 1 || waiter.got[0] != "granted" {
		t.Fatalf("expected one delivery of granted, got %v", waiter.got)
	}
	if _, err := eng.DeliverInput("approval", "again"); err == nil {
		t.Fatalf("expected redelivery to a closed bookmark to fail")
	}
}

func TestSnapshotRestoreResumesSuspendedRun(t *testing.T) {
	build := func() (*Engine, *bookmarkLeaf) {
		waiter := &bookmarkLeaf{Base: activity.NewBase("waiter"), bookmark: "gate"}
		root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{waiter}}
		root.onChild = func(activity.Context, activity.Activity, any) (activity.Outcome, error) {
			return activity.OutcomeCompleted, nil
		}
		eng, err := New(root, WithClock(testClock()))
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		return eng, waiter
	}

	eng, _ := build()
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	snap, err := eng.Snapshot(outcome)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// Round-trip through JSON the way the repository would.
	encoded, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored, waiter := build()
	if err := restored.Restore(decoded); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if diff := cmp.Diff(eng.Instances(), restored.Instances()); diff != "" {
		t.Fatalf("restored tree mismatch (-orig +restored):\n%s", diff)
	}
	if restored.RunID() != eng.RunID() {
		t.Fatalf("run id mismatch: %s vs %s", restored.RunID(), eng.RunID())
	}
	final, err := restored.DeliverInput("gate", 11)
	if err != nil {
		t.Fatalf("deliver input after restore: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", final.Status, final.Fault)
	}
	if len(waiter.got) != 1 || waiter.got[0] != 11 {
		t.Fatalf("expected one delivery of 11, got %v", waiter.got)
	}
}

// A checkpoint can land between a continuation's capture and its
// delivery. Resume must deliver the captured value exactly once, with
// the JSON-widened number converted back to the declared result type.
func TestResumeRedeliversCapturedContinuationOnce(t *testing.T) {
	child := resultLeaf("seven", reflect.TypeOf(int(0)), 7)
	var results []any
	root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{child}}
	root.onChild = func(_ activity.Context, _ activity.Activity, result any) (activity.Outcome, error) {
		results = append(results, result)
		return activity.OutcomeCompleted, nil
	}
	store := &memoryStore{}
	store.snap = Snapshot{
		RunID:          "root-42",
		Status:         StatusIdle,
		NextLocationID: 1,
		Instances: []InstanceRecord{
			{
				ID:       "n-root",
				DefIndex: 0,
				Substate: SubstateExecuting,
			},
			{
				ID:             "n-child",
				ParentID:       "n-root",
				DefIndex:       1,
				Substate:       SubstateClosed,
				OwnsEnv:        true,
				Locations:      []LocationRecord{{ID: 1, Name: resultSlotName, Value: float64(7)}},
				ResultLocation: 1,
				Continuation:   &ContinuationRecord{Value: float64(7), Type: "int", Captured: true},
			},
		},
	}
	store.ok = true

	eng, err := New(root, WithStore(store), WithClock(testClock()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.Resume()
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", outcome.Status, outcome.Fault)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(results))
	}
	if got, ok := results[0].(int); !ok || got != 7 {
		t.Fatalf("expected int 7, got %T %v", results[0], results[0])
	}
	if store.snap.Status != StatusCompleted {
		t.Fatalf("expected completed snapshot persisted, got %s", store.snap.Status)
	}
}

func TestAddSymbolsMigratesDescendants(t *testing.T) {
	waiters := make([]*bookmarkLeaf, 3)
	children := make([]activity.Activity, 3)
	for i := range waiters {
		w := &bookmarkLeaf{Base: activity.NewBase(fmt.Sprintf("waiter-%d", i)), bookmark: fmt.Sprintf("gate-%d", i)}
		waiters[i] = w
		children[i] = w
	}
	root := &stubParent{Base: activity.NewBase("root"), children: children}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	rootID := eng.Root().ID()
	decl := activity.VariableDecl{Name: "quota", Type: reflect.TypeOf(int(0)), Default: "42"}
	if err := eng.AddSymbols(rootID, []activity.VariableDecl{decl}); err != nil {
		t.Fatalf("add symbols: %v", err)
	}
	for id, node := range eng.instances {
		got, err := eng.contextFor(node).Read("quota")
		if err != nil {
			t.Fatalf("instance %s cannot see quota: %v", id, err)
		}
		if got != 42 {
			t.Fatalf("instance %s sees quota=%v", id, got)
		}
	}
	if err := eng.AddSymbols("no-such-instance", []activity.VariableDecl{decl}); err == nil {
		t.Fatalf("expected unknown instance to fail")
	}
}

func TestByRefArgumentWritesThroughToParentScope(t *testing.T) {
	writer := &stubLeaf{Base: activity.NewBase("writer")}
	writer.SetArguments(activity.ArgumentDecl{
		Name:       "slot",
		Type:       reflect.TypeOf(int(0)),
		Expression: "total",
		ByRef:      true,
	})
	writer.run = func(ctx activity.Context) (activity.Outcome, error) {
		if err := ctx.Write("slot", 99); err != nil {
			return 0, err
		}
		return activity.OutcomeCompleted, nil
	}
	root := &stubParent{Base: activity.NewBase("root"), children: []activity.Activity{writer}}
	root.SetVariables(activity.VariableDecl{Name: "total", Type: reflect.TypeOf(int(0)), Default: "0"})
	root.onChild = func(ctx activity.Context, _ activity.Activity, _ any) (activity.Outcome, error) {
		got, err := ctx.Read("total")
		if err != nil {
			return 0, err
		}
		if got != 99 {
			return 0, fmt.Errorf("total=%v after by-ref write", got)
		}
		return activity.OutcomeCompleted, nil
	}
	eng, err := New(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", outcome.Status, outcome.Fault)
	}
}

func TestSecondRunRejected(t *testing.T) {
	eng, err := New(leaf("only"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := eng.Run(); err == nil {
		t.Fatalf("expected second run to fail")
	}
}
