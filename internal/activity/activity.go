// Package activity defines the capability contract every activity
// definition must expose to the engine: declared arguments and variables,
// an execute step, and optional cancellation, completion, fault, and input
// hooks. The engine drives these; activities never drive each other
// directly.
package activity

import (
	"reflect"

	"github.com/wforney/corewf-sub005/internal/txn"
)

// Outcome is what an execution step reports back to the scheduler.
type Outcome int

const (
	// OutcomeCompleted means the node finished; its result, if declared,
	// has already been written through the context.
	OutcomeCompleted Outcome = iota
	// OutcomePending means children were scheduled; the node completes when
	// its completion handler says so.
	OutcomePending
	// OutcomeAwaitingInput means a bookmark was opened; the node suspends
	// until external input is delivered.
	OutcomeAwaitingInput
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePending:
		return "pending"
	case OutcomeAwaitingInput:
		return "awaiting-input"
	default:
		return "unknown"
	}
}

// ArgumentDecl declares one argument cell. The expression is compiled by
// the configured front end and evaluated against the parent scope when the
// node resolves its arguments. ByRef arguments bind as an alias of the
// parent location the expression names instead of copying the value.
type ArgumentDecl struct {
	Name       string
	Type       reflect.Type
	Expression string
	ByRef      bool
}

// VariableDecl declares one variable cell with an optional default
// expression.
type VariableDecl struct {
	Name    string
	Type    reflect.Type
	Default string
}

// Activity is the declarative unit of executable behavior. Implementations
// must be stateless with respect to a run: all per-run state lives in the
// engine's node instances and environments, which is what makes a
// definition tree reusable across checkpoints.
type Activity interface {
	Name() string
	Arguments() []ArgumentDecl
	Variables() []VariableDecl
	Execute(ctx Context) (Outcome, error)
}

// Composite is implemented by activities that statically declare child
// activities. The engine uses it to index the definition tree for
// checkpointing.
type Composite interface {
	Children() []Activity
}

// Canceler is implemented by activities that need to release resources or
// close bookmarks when asked to cancel. Cancellation remains cooperative:
// the engine transitions the node and recursively cancels children
// regardless.
type Canceler interface {
	Cancel(ctx Context) error
}

// CompletionHandler receives a completed child's result. The returned
// outcome continues the parent's own lifecycle (schedule more children,
// complete, or keep waiting).
type CompletionHandler interface {
	ChildCompleted(ctx Context, child Activity, result any) (Outcome, error)
}

// FaultHandler lets a parent intercept a child's fault. Returning
// handled=false propagates the fault to the next ancestor.
type FaultHandler interface {
	ChildFaulted(ctx Context, child Activity, fault error) (handled bool, outcome Outcome, err error)
}

// InputHandler resumes a node whose bookmark received external input.
type InputHandler interface {
	InputReceived(ctx Context, bookmark string, value any) (Outcome, error)
}

// ResultProvider is implemented by activities that declare a typed result.
// The engine allocates a result cell and the completion continuation
// captures and converts it for the parent.
type ResultProvider interface {
	ResultType() reflect.Type
}

// Context is the engine-provided execution surface an activity runs
// against. All variable access resolves through the node's environment
// chain; the ambient transaction handle is explicit rather than
// thread-ambient.
type Context interface {
	// InstanceID identifies the executing node instance.
	InstanceID() string
	// ScheduleChild enqueues a child activity under this node.
	ScheduleChild(child Activity) error
	// SetResult stores the node's declared result value.
	SetResult(value any) error
	// Read resolves a symbol by name through the scope chain.
	Read(name string) (any, error)
	// Write stores a symbol by name through the scope chain.
	Write(name string, value any) error
	// Evaluate compiles (memoized) and runs an expression against this
	// node's scope.
	Evaluate(text string, expected reflect.Type) (any, error)
	// CreateBookmark opens a named suspension point awaiting external input.
	CreateBookmark(name string) error
	// CancelRequested reports whether cancellation has been requested for
	// this node; cooperative activities should observe it at their next
	// scheduling point.
	CancelRequested() bool
	// Transaction returns the ambient transaction handle, or nil.
	Transaction() txn.Transaction
	// Logf writes to the engine's run log.
	Logf(format string, args ...any)
}

// Scope is the read view an expression evaluates against.
type Scope interface {
	Lookup(name string) (value any, ok bool)
}

// Invocable is a compiled expression.
type Invocable interface {
	Invoke(scope Scope) (any, error)
}

// Compiler is the expression front end capability. Compile fails with a
// diagnostic at compile time; the engine never inspects expression syntax.
type Compiler interface {
	Compile(text string, expected reflect.Type) (Invocable, error)
}
