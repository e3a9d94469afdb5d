package activities

import (
	"fmt"
	"reflect"

	"github.com/wforney/corewf-sub005/internal/activity"
)

// seqCursor is the hidden variable holding the index of the next child to
// schedule. Each Sequence owns its own environment frame, so nested
// sequences shadow each other's cursor naturally.
const seqCursor = "__cursor"

// Sequence runs its children one at a time, in order.
type Sequence struct {
	activity.Base
	children []activity.Activity
}

var (
	_ activity.Composite         = (*Sequence)(nil)
	_ activity.CompletionHandler = (*Sequence)(nil)
)

// NewSequence builds a sequence over the given children.
func NewSequence(name string, children ...activity.Activity) *Sequence {
	s := &Sequence{Base: activity.NewBase(name), children: children}
	s.SetVariables(activity.VariableDecl{Name: seqCursor, Type: reflect.TypeOf(int(0)), Default: "0"})
	return s
}

// Children implements activity.Composite.
func (s *Sequence) Children() []activity.Activity {
	return append([]activity.Activity{}, s.children...)
}

func (s *Sequence) Execute(ctx activity.Context) (activity.Outcome, error) {
	if len(s.children) == 0 {
		return activity.OutcomeCompleted, nil
	}
	return s.scheduleNext(ctx, 0)
}

// ChildCompleted moves the cursor forward; the sequence closes after its
// last child does.
func (s *Sequence) ChildCompleted(ctx activity.Context, _ activity.Activity, _ any) (activity.Outcome, error) {
	raw, err := ctx.Read(seqCursor)
	if err != nil {
		return 0, err
	}
	idx, ok := asInt(raw)
	if !ok {
		return 0, fmt.Errorf("activities: sequence %s cursor holds %T", s.Name(), raw)
	}
	if idx >= len(s.children) {
		return activity.OutcomeCompleted, nil
	}
	return s.scheduleNext(ctx, idx)
}

func (s *Sequence) scheduleNext(ctx activity.Context, idx int) (activity.Outcome, error) {
	if ctx.CancelRequested() {
		return activity.OutcomeCompleted, nil
	}
	if err := ctx.Write(seqCursor, idx+1); err != nil {
		return 0, err
	}
	if err := ctx.ScheduleChild(s.children[idx]); err != nil {
		return 0, err
	}
	return activity.OutcomePending, nil
}
