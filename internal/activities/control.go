package activities

import (
	"fmt"
	"reflect"

	"github.com/wforney/corewf-sub005/internal/activity"
)

var boolType = reflect.TypeOf(false)

// If evaluates a boolean condition and runs one of two branches. Either
// branch may be nil.
type If struct {
	activity.Base
	condition string
	then      activity.Activity
	otherwise activity.Activity
}

var (
	_ activity.Composite         = (*If)(nil)
	_ activity.CompletionHandler = (*If)(nil)
)

// NewIf builds a conditional. Pass nil for a branch to make it a no-op.
func NewIf(name, condition string, then, otherwise activity.Activity) *If {
	return &If{Base: activity.NewBase(name), condition: condition, then: then, otherwise: otherwise}
}

// Children implements activity.Composite.
func (i *If) Children() []activity.Activity {
	var out []activity.Activity
	if i.then != nil {
		out = append(out, i.then)
	}
	if i.otherwise != nil {
		out = append(out, i.otherwise)
	}
	return out
}

func (i *If) Execute(ctx activity.Context) (activity.Outcome, error) {
	take, err := evalCondition(ctx, i.condition)
	if err != nil {
		return 0, fmt.Errorf("activities: if %s: %w", i.Name(), err)
	}
	branch := i.otherwise
	if take {
		branch = i.then
	}
	if branch == nil {
		return activity.OutcomeCompleted, nil
	}
	if err := ctx.ScheduleChild(branch); err != nil {
		return 0, err
	}
	return activity.OutcomePending, nil
}

func (i *If) ChildCompleted(activity.Context, activity.Activity, any) (activity.Outcome, error) {
	return activity.OutcomeCompleted, nil
}

// While re-evaluates its condition before every iteration and schedules
// the body while it holds. The condition reads the enclosing scope, so an
// Assign in the body can drive it to false.
type While struct {
	activity.Base
	condition string
	body      activity.Activity
}

var (
	_ activity.Composite         = (*While)(nil)
	_ activity.CompletionHandler = (*While)(nil)
)

// NewWhile builds a condition-guarded loop.
func NewWhile(name, condition string, body activity.Activity) *While {
	return &While{Base: activity.NewBase(name), condition: condition, body: body}
}

// Children implements activity.Composite.
func (w *While) Children() []activity.Activity {
	if w.body == nil {
		return nil
	}
	return []activity.Activity{w.body}
}

func (w *While) Execute(ctx activity.Context) (activity.Outcome, error) {
	return w.step(ctx)
}

func (w *While) ChildCompleted(ctx activity.Context, _ activity.Activity, _ any) (activity.Outcome, error) {
	return w.step(ctx)
}

func (w *While) step(ctx activity.Context) (activity.Outcome, error) {
	if ctx.CancelRequested() || w.body == nil {
		return activity.OutcomeCompleted, nil
	}
	keep, err := evalCondition(ctx, w.condition)
	if err != nil {
		return 0, fmt.Errorf("activities: while %s: %w", w.Name(), err)
	}
	if !keep {
		return activity.OutcomeCompleted, nil
	}
	if err := ctx.ScheduleChild(w.body); err != nil {
		return 0, err
	}
	return activity.OutcomePending, nil
}

func evalCondition(ctx activity.Context, text string) (bool, error) {
	v, err := ctx.Evaluate(text, boolType)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q yielded %T, want bool", text, v)
	}
	return b, nil
}
