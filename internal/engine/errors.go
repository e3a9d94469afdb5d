package engine

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrInvalidOperation is returned when work is enqueued for a node
// instance that already reached a terminal substate.
var ErrInvalidOperation = errors.New("engine: node instance is terminal")

// ErrBusy is returned when a structural mutation (runtime symbol
// addition) is requested while the scheduler is draining. The mutation
// must be atomic with respect to work-item processing.
var ErrBusy = errors.New("engine: scheduler is draining")

// IncompatibleResultError reports that a completed child's result value
// could not be converted to the type its completion continuation expects.
// It is fatal to that continuation and surfaces as a fault.
type IncompatibleResultError struct {
	Child    string
	Value    any
	Expected reflect.Type
}

func (e *IncompatibleResultError) Error() string {
	return fmt.Sprintf("engine: result %v (%T) of %s is not compatible with %s", e.Value, e.Value, e.Child, e.Expected)
}
