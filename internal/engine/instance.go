package engine

import (
	"github.com/wforney/corewf-sub005/internal/activity"
	"github.com/wforney/corewf-sub005/internal/env"
)

// NodeInstance binds one activity definition occurrence to its running
// state: substate, environment (owned or inherited), children created so
// far, and the pending completion continuation toward its parent. All
// mutation happens on the scheduler's single thread of control.
type NodeInstance struct {
	id       string
	activity activity.Activity
	defIndex int

	parent   *NodeInstance
	children []*NodeInstance

	substate Substate
	env      *env.Environment
	ownsEnv  bool

	resultLoc *env.Location
	bookmark  string

	// pendingChildren counts children that have not reached a terminal
	// substate yet.
	pendingChildren int

	cancelRequested bool
	fault           error

	// continuation delivers this node's completion to its parent.
	continuation *Continuation
}

// ID returns the stable instance identity.
func (n *NodeInstance) ID() string { return n.id }

// Activity returns the bound activity definition.
func (n *NodeInstance) Activity() activity.Activity { return n.activity }

// Substate returns the current lifecycle stage.
func (n *NodeInstance) Substate() Substate { return n.substate }

// Parent returns the parent instance, or nil for the root.
func (n *NodeInstance) Parent() *NodeInstance { return n.parent }

// Children returns the child instances created so far.
func (n *NodeInstance) Children() []*NodeInstance {
	out := make([]*NodeInstance, len(n.children))
	copy(out, n.children)
	return out
}

// Fault returns the error that faulted this instance, or nil.
func (n *NodeInstance) Fault() error { return n.fault }

// Bookmark returns the open suspension point name, or "".
func (n *NodeInstance) Bookmark() string { return n.bookmark }

// symbolCount is the number of cells this node declares: arguments,
// variables, and the result slot if the activity provides one. A node
// with zero symbols never allocates an environment.
func symbolCount(a activity.Activity) int {
	count := len(a.Arguments()) + len(a.Variables())
	if _, ok := a.(activity.ResultProvider); ok {
		count++
	}
	return count
}

// walkSubtree visits n and every descendant in preorder.
func (n *NodeInstance) walkSubtree(visit func(*NodeInstance)) {
	visit(n)
	for _, child := range n.children {
		child.walkSubtree(visit)
	}
}
