package engine

import (
	"fmt"
	"reflect"

	"github.com/wforney/corewf-sub005/internal/activity"
)

// Continuation captures a completed child's typed result and redelivers
// it to the parent's resumption logic. The captured value must survive a
// checkpoint taken between capture and delivery, so the continuation
// persists as plain data and the resumption logic is re-bound from the
// (stateless) activity definition on restore.
type Continuation struct {
	parent *NodeInstance
	child  *NodeInstance

	expected  reflect.Type
	value     any
	captured  bool
	delivered bool
}

func newContinuation(parent, child *NodeInstance) *Continuation {
	cont := &Continuation{parent: parent, child: child}
	if rp, ok := child.activity.(activity.ResultProvider); ok {
		cont.expected = rp.ResultType()
	}
	return cont
}

// Capture records the child's completion. If the child declares a typed
// result, the value is read from the child's result slot and converted to
// the continuation's expected type.
func (c *Continuation) Capture() error {
	if !c.child.substate.Terminal() {
		return fmt.Errorf("engine: capture before %s reached a terminal substate", c.child.id)
	}
	if c.captured {
		return nil
	}
	if c.child.resultLoc != nil {
		raw := c.child.resultLoc.Get()
		converted, err := convertResult(raw, c.expected, c.child.activity.Name())
		if err != nil {
			return err
		}
		c.value = converted
	}
	c.captured = true
	return nil
}

// Invoke delivers the captured value to the parent's completion handler.
// Safe to perform exactly once; a second delivery is a defect.
func (c *Continuation) Invoke(ctx activity.Context) (activity.Outcome, bool, error) {
	if c.delivered {
		return 0, false, fmt.Errorf("engine: continuation for %s already delivered", c.child.id)
	}
	if !c.captured {
		return 0, false, fmt.Errorf("engine: continuation for %s invoked before capture", c.child.id)
	}
	c.delivered = true
	handler, ok := c.parent.activity.(activity.CompletionHandler)
	if !ok {
		return 0, false, nil
	}
	outcome, err := handler.ChildCompleted(ctx, c.child.activity, c.value)
	return outcome, true, err
}

// Value returns the captured result value.
func (c *Continuation) Value() any { return c.value }

func convertResult(value any, expected reflect.Type, childName string) (any, error) {
	if expected == nil || value == nil {
		return value, nil
	}
	vt := reflect.TypeOf(value)
	if vt.AssignableTo(expected) {
		return value, nil
	}
	if vt.ConvertibleTo(expected) {
		return reflect.ValueOf(value).Convert(expected).Interface(), nil
	}
	return nil, &IncompatibleResultError{Child: childName, Value: value, Expected: expected}
}
