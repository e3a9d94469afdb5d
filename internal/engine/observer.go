package engine

// NodeInfo is the observational projection handed to the debugger hook.
type NodeInfo struct {
	ID       string
	ParentID string
	Activity string
	Substate Substate
	Fault    error
}

// Observer receives pre/post node-execution callbacks. Implementations
// must be purely observational: they run on the scheduler's thread and
// must never alter scheduling outcome.
type Observer interface {
	NodeStarting(info NodeInfo)
	NodeFinished(info NodeInfo)
}

func nodeInfo(node *NodeInstance) NodeInfo {
	info := NodeInfo{
		ID:       node.id,
		Activity: node.activity.Name(),
		Substate: node.substate,
		Fault:    node.fault,
	}
	if node.parent != nil {
		info.ParentID = node.parent.id
	}
	return info
}
