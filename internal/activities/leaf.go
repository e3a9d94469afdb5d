package activities

import (
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/wforney/corewf-sub005/internal/activity"
)

// Assign evaluates an expression and writes the value to a named symbol
// in the enclosing scope.
type Assign struct {
	activity.Base
	to         string
	expression string
}

// NewAssign builds an assignment to the symbol named by to.
func NewAssign(name, to, expression string) *Assign {
	return &Assign{Base: activity.NewBase(name), to: to, expression: expression}
}

func (a *Assign) Execute(ctx activity.Context) (activity.Outcome, error) {
	value, err := ctx.Evaluate(a.expression, nil)
	if err != nil {
		return 0, fmt.Errorf("activities: assign %s: %w", a.Name(), err)
	}
	if err := ctx.Write(a.to, value); err != nil {
		return 0, fmt.Errorf("activities: assign %s: %w", a.Name(), err)
	}
	return activity.OutcomeCompleted, nil
}

// Compute evaluates an expression and publishes it as the node's typed
// result, which the parent receives through its completion continuation.
type Compute struct {
	activity.Base
	expression string
	resultType reflect.Type
}

var _ activity.ResultProvider = (*Compute)(nil)

// NewCompute builds a result-producing expression node.
func NewCompute(name, expression string, resultType reflect.Type) *Compute {
	return &Compute{Base: activity.NewBase(name), expression: expression, resultType: resultType}
}

// ResultType implements activity.ResultProvider.
func (c *Compute) ResultType() reflect.Type { return c.resultType }

func (c *Compute) Execute(ctx activity.Context) (activity.Outcome, error) {
	value, err := ctx.Evaluate(c.expression, c.resultType)
	if err != nil {
		return 0, fmt.Errorf("activities: compute %s: %w", c.Name(), err)
	}
	if err := ctx.SetResult(value); err != nil {
		return 0, err
	}
	return activity.OutcomeCompleted, nil
}

// WriteLine evaluates a string expression and prints it.
type WriteLine struct {
	activity.Base
	expression string
	out        io.Writer
}

// NewWriteLine prints to stdout unless an alternate writer is set.
func NewWriteLine(name, expression string) *WriteLine {
	return &WriteLine{Base: activity.NewBase(name), expression: expression, out: os.Stdout}
}

// SetOutput redirects the line (primarily for tests).
func (w *WriteLine) SetOutput(out io.Writer) {
	if out != nil {
		w.out = out
	}
}

func (w *WriteLine) Execute(ctx activity.Context) (activity.Outcome, error) {
	value, err := ctx.Evaluate(w.expression, reflect.TypeOf(""))
	if err != nil {
		return 0, fmt.Errorf("activities: writeline %s: %w", w.Name(), err)
	}
	if _, err := fmt.Fprintln(w.out, value); err != nil {
		return 0, err
	}
	ctx.Logf("%s: %v", w.Name(), value)
	return activity.OutcomeCompleted, nil
}
