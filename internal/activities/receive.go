package activities

import (
	"fmt"
	"reflect"

	"github.com/wforney/corewf-sub005/internal/activity"
)

// Receive opens a named bookmark and suspends until external input is
// delivered. The value can be written to a symbol in the enclosing
// scope, published as the node's typed result, or both.
type Receive struct {
	activity.Base
	bookmark   string
	to         string
	resultType reflect.Type
}

var (
	_ activity.InputHandler = (*Receive)(nil)
	_ activity.Canceler     = (*Receive)(nil)
)

// ReceiveOption customizes a Receive.
type ReceiveOption func(*Receive)

// WriteTo stores the delivered value into the named symbol.
func WriteTo(symbol string) ReceiveOption {
	return func(r *Receive) { r.to = symbol }
}

// WithResult publishes the delivered value as a typed result.
func WithResult(t reflect.Type) ReceiveOption {
	return func(r *Receive) { r.resultType = t }
}

// NewReceive builds a suspension point on the given bookmark name.
func NewReceive(name, bookmark string, opts ...ReceiveOption) *Receive {
	r := &Receive{Base: activity.NewBase(name), bookmark: bookmark}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResultType implements activity.ResultProvider when a result was asked
// for; a nil type means the node declares no result slot.
func (r *Receive) ResultType() reflect.Type { return r.resultType }

func (r *Receive) Execute(ctx activity.Context) (activity.Outcome, error) {
	if err := ctx.CreateBookmark(r.bookmark); err != nil {
		return 0, fmt.Errorf("activities: receive %s: %w", r.Name(), err)
	}
	return activity.OutcomeAwaitingInput, nil
}

// InputReceived stores the delivered value and completes.
func (r *Receive) InputReceived(ctx activity.Context, _ string, value any) (activity.Outcome, error) {
	if r.to != "" {
		if err := ctx.Write(r.to, value); err != nil {
			return 0, fmt.Errorf("activities: receive %s: %w", r.Name(), err)
		}
	}
	if r.resultType != nil {
		if err := ctx.SetResult(value); err != nil {
			return 0, err
		}
	}
	return activity.OutcomeCompleted, nil
}

// Cancel abandons the suspension point. The engine has already closed
// the bookmark by the time this runs.
func (r *Receive) Cancel(ctx activity.Context) error {
	ctx.Logf("receive %s abandoned before input arrived", r.Name())
	return nil
}
