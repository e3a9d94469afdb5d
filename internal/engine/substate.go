package engine

// Substate is the lifecycle stage of a node instance. Transitions are
// monotonic except for the explicit cancel path; terminal substates are
// immutable and never re-enter the scheduler.
type Substate string

const (
	SubstateCreated            Substate = "created"
	SubstateResolvingArguments Substate = "resolving-arguments"
	SubstateResolvingVariables Substate = "resolving-variables"
	SubstateInitialized        Substate = "initialized"
	SubstateExecuting          Substate = "executing"
	SubstateClosed             Substate = "closed"
	SubstateCanceling          Substate = "canceling"
	SubstateCanceled           Substate = "canceled"
	SubstateFaulted            Substate = "faulted"
)

// Terminal reports whether the substate is closed, faulted, or canceled.
func (s Substate) Terminal() bool {
	switch s {
	case SubstateClosed, SubstateFaulted, SubstateCanceled:
		return true
	default:
		return false
	}
}

// PreExecuting groups the stages before a node's own side effects begin.
// The debugger hook and the transaction helper use this classification.
func (s Substate) PreExecuting() bool {
	switch s {
	case SubstateCreated, SubstateResolvingArguments, SubstateResolvingVariables, SubstateInitialized:
		return true
	default:
		return false
	}
}
