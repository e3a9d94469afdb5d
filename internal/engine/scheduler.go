package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/wforney/corewf-sub005/internal/activity"
	"github.com/wforney/corewf-sub005/internal/env"
)

// operation names the lifecycle step a work item performs.
type operation string

const (
	opResolveArguments  operation = "resolve-arguments"
	opResolveVariables  operation = "resolve-variables"
	opExecute           operation = "execute"
	opDeliverCompletion operation = "deliver-completion"
	opDeliverFault      operation = "deliver-fault"
	opCancel            operation = "cancel"
	opResumeBookmark    operation = "resume-bookmark"
)

// workItem is an ephemeral record owned exclusively by the scheduler
// queue. It is never persisted; pending work is reconstructed from node
// substates on resume.
type workItem struct {
	node  *NodeInstance
	op    operation
	cont  *Continuation
	child *NodeInstance
	fault error
	input any
}

// RunStatus is the single outcome a drain surfaces.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusIdle      RunStatus = "idle"
	StatusFaulted   RunStatus = "faulted"
	StatusCanceled  RunStatus = "canceled"
)

// Outcome reports how a drain ended. Fault is set only for StatusFaulted.
type Outcome struct {
	Status RunStatus
	Fault  error
}

// Scheduler serializes every tree mutation and substate transition
// through one logical thread of control. It is the only component that
// may change the shape of the instance tree.
type Scheduler struct {
	eng *Engine

	queue    []workItem
	draining bool
	drains   uint64

	rootFault error
}

func newScheduler(eng *Engine) *Scheduler {
	return &Scheduler{eng: eng}
}

// Enqueue appends a lifecycle operation for a node instance. Enqueueing
// work for a terminal instance fails.
func (s *Scheduler) Enqueue(node *NodeInstance, op operation) error {
	return s.push(workItem{node: node, op: op})
}

func (s *Scheduler) push(item workItem) error {
	if item.node.substate.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrInvalidOperation, item.node.id, item.node.substate)
	}
	s.queue = append(s.queue, item)
	return nil
}

// RunToQuiescence drains the queue until empty. Nested calls from within
// an operation fold into the active drain instead of recursing, which
// bounds stack depth regardless of tree depth. Work items run in FIFO
// order; a node's children are enqueued while their parent's operation
// runs and are therefore processed only after it returns.
func (s *Scheduler) RunToQuiescence() Outcome {
	if s.draining {
		return Outcome{Status: StatusIdle}
	}
	s.draining = true
	defer func() { s.draining = false }()
	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.drains++
		s.process(item)
	}
	return s.outcome()
}

func (s *Scheduler) outcome() Outcome {
	root := s.eng.rootInstance
	if root == nil {
		return Outcome{Status: StatusIdle}
	}
	if s.rootFault != nil || root.substate == SubstateFaulted {
		fault := s.rootFault
		if fault == nil {
			fault = root.fault
		}
		return Outcome{Status: StatusFaulted, Fault: fault}
	}
	switch root.substate {
	case SubstateClosed:
		return Outcome{Status: StatusCompleted}
	case SubstateCanceled:
		return Outcome{Status: StatusCanceled}
	default:
		return Outcome{Status: StatusIdle}
	}
}

func (s *Scheduler) process(item workItem) {
	node := item.node
	if node.substate.Terminal() {
		// Stale item for a node that terminated after enqueue.
		return
	}
	switch item.op {
	case opResolveArguments:
		s.resolveArguments(node)
	case opResolveVariables:
		s.resolveVariables(node)
	case opExecute:
		s.execute(node)
	case opDeliverCompletion:
		s.deliverCompletion(node, item.cont)
	case opDeliverFault:
		s.deliverFault(node, item.child, item.fault)
	case opCancel:
		s.requestCancel(node)
	case opResumeBookmark:
		s.resumeBookmark(node, item.input)
	default:
		s.faultNode(node, fmt.Errorf("engine: unknown operation %q", item.op))
	}
}

// resolveArguments binds each declared argument expression's value (or
// alias) into a fresh location. The environment is allocated here, and
// only when the node declares at least one symbol.
func (s *Scheduler) resolveArguments(node *NodeInstance) {
	if node.substate != SubstateCreated {
		s.faultNode(node, fmt.Errorf("engine: resolve-arguments in substate %s", node.substate))
		return
	}
	node.substate = SubstateResolvingArguments

	var parentScope activity.Scope = scopeView{}
	if node.parent != nil {
		parentScope = scopeView{env: node.parent.env}
	}
	for _, decl := range node.activity.Arguments() {
		loc, err := node.env.Declare(s.eng.nextLocationID(), decl.Name, decl.Type)
		if err != nil {
			s.faultNode(node, err)
			return
		}
		if decl.ByRef {
			if err := s.bindByRef(node, loc, decl); err != nil {
				s.faultNode(node, err)
				return
			}
			continue
		}
		if decl.Expression == "" {
			continue
		}
		value, err := s.eng.evaluateIn(parentScope, decl.Expression, decl.Type)
		if err != nil {
			s.faultNode(node, fmt.Errorf("engine: argument %q of %s: %w", decl.Name, node.activity.Name(), err))
			return
		}
		if err := loc.Set(value); err != nil {
			s.faultNode(node, err)
			return
		}
	}
	if err := s.Enqueue(node, opResolveVariables); err != nil {
		s.faultNode(node, err)
	}
}

func (s *Scheduler) bindByRef(node *NodeInstance, loc *env.Location, decl activity.ArgumentDecl) error {
	if node.parent == nil || node.parent.env == nil {
		return fmt.Errorf("engine: by-ref argument %q of root node %s", decl.Name, node.activity.Name())
	}
	target, ok := node.parent.env.LookupName(decl.Expression)
	if !ok {
		return fmt.Errorf("engine: by-ref argument %q: no location named %q in parent scope", decl.Name, decl.Expression)
	}
	return loc.BindAlias(target)
}

// resolveVariables binds declared variables to default-initialized
// locations, then moves the node through Initialized into the execute
// step.
func (s *Scheduler) resolveVariables(node *NodeInstance) {
	if node.substate != SubstateResolvingArguments {
		s.faultNode(node, fmt.Errorf("engine: resolve-variables in substate %s", node.substate))
		return
	}
	node.substate = SubstateResolvingVariables

	ownScope := scopeView{env: node.env}
	for _, decl := range node.activity.Variables() {
		loc, err := node.env.Declare(s.eng.nextLocationID(), decl.Name, decl.Type)
		if err != nil {
			s.faultNode(node, err)
			return
		}
		if decl.Default == "" {
			continue
		}
		value, err := s.eng.evaluateIn(ownScope, decl.Default, decl.Type)
		if err != nil {
			s.faultNode(node, fmt.Errorf("engine: variable %q of %s: %w", decl.Name, node.activity.Name(), err))
			return
		}
		if err := loc.Set(value); err != nil {
			s.faultNode(node, err)
			return
		}
	}
	if _, ok := node.activity.(activity.ResultProvider); ok {
		// The result slot is untyped on purpose: the completion
		// continuation performs the typed conversion at capture time.
		loc, err := node.env.Declare(s.eng.nextLocationID(), resultSlotName, nil)
		if err != nil {
			s.faultNode(node, err)
			return
		}
		node.resultLoc = loc
	}
	node.substate = SubstateInitialized
	if err := s.Enqueue(node, opExecute); err != nil {
		s.faultNode(node, err)
	}
}

func (s *Scheduler) execute(node *NodeInstance) {
	if node.substate != SubstateInitialized {
		s.faultNode(node, fmt.Errorf("engine: execute in substate %s", node.substate))
		return
	}
	s.eng.notifyStarting(node)
	node.substate = SubstateExecuting
	outcome, err := node.activity.Execute(s.eng.contextFor(node))
	if err != nil {
		s.faultNode(node, err)
		return
	}
	s.handleOutcome(node, outcome)
}

func (s *Scheduler) handleOutcome(node *NodeInstance, outcome activity.Outcome) {
	switch outcome {
	case activity.OutcomeCompleted:
		s.complete(node)
	case activity.OutcomePending:
		if node.pendingChildren == 0 {
			// Nothing was actually scheduled; the node is done.
			s.complete(node)
		}
	case activity.OutcomeAwaitingInput:
		if node.bookmark == "" {
			s.faultNode(node, fmt.Errorf("engine: %s reported awaiting-input without a bookmark", node.activity.Name()))
		}
	default:
		s.faultNode(node, fmt.Errorf("engine: %s reported unknown outcome %d", node.activity.Name(), outcome))
	}
}

// scheduleChild creates a child instance under parent and queues its
// lifecycle. The child's completion continuation is bound here, at
// definition-binding time.
func (s *Scheduler) scheduleChild(parent *NodeInstance, child activity.Activity) error {
	if parent.substate != SubstateExecuting {
		return fmt.Errorf("engine: %s cannot schedule children in substate %s", parent.activity.Name(), parent.substate)
	}
	instance := &NodeInstance{
		id:       uuid.NewString(),
		activity: child,
		defIndex: s.eng.defIndexOf(child),
		parent:   parent,
		substate: SubstateCreated,
	}
	s.attachEnvironment(instance)
	instance.continuation = newContinuation(parent, instance)
	parent.children = append(parent.children, instance)
	parent.pendingChildren++
	s.eng.instances[instance.id] = instance
	return s.Enqueue(instance, opResolveArguments)
}

// attachEnvironment gives the instance its own environment only when it
// declares symbols; otherwise it shares the nearest ancestor's.
func (s *Scheduler) attachEnvironment(node *NodeInstance) {
	parentEnv := s.eng.effectiveEnv(node.parent)
	count := symbolCount(node.activity)
	if count == 0 {
		node.env = parentEnv
		node.ownsEnv = false
		return
	}
	if parentEnv != nil {
		node.env = parentEnv.CreateChild(count)
	} else {
		node.env = s.eng.newRootEnv(count)
	}
	node.ownsEnv = true
}

// complete closes a node and hands its continuation to the parent.
func (s *Scheduler) complete(node *NodeInstance) {
	s.eng.dropBookmark(node)
	node.substate = SubstateClosed
	s.eng.notifyFinished(node)

	parent := node.parent
	if parent == nil {
		return
	}
	if parent.substate == SubstateCanceling {
		parent.pendingChildren--
		s.maybeFinishCancel(parent)
		return
	}
	cont := node.continuation
	if cont == nil {
		parent.pendingChildren--
		s.childrenSettled(parent)
		return
	}
	if err := cont.Capture(); err != nil {
		// An incompatible result is fatal to the continuation and is
		// reported as a fault to the parent. The child's pending slot is
		// settled by deliverFault, never here, so the count drops exactly
		// once per child on either path.
		s.push(workItem{node: parent, op: opDeliverFault, child: node, fault: err})
		return
	}
	parent.pendingChildren--
	s.push(workItem{node: parent, op: opDeliverCompletion, cont: cont})
}

func (s *Scheduler) deliverCompletion(parent *NodeInstance, cont *Continuation) {
	if parent.substate != SubstateExecuting {
		return
	}
	outcome, handled, err := cont.Invoke(s.eng.contextFor(parent))
	if err != nil {
		s.faultNode(parent, err)
		return
	}
	if handled {
		s.handleOutcome(parent, outcome)
		return
	}
	s.childrenSettled(parent)
}

// childrenSettled completes a parent with no completion handler once its
// last child terminates.
func (s *Scheduler) childrenSettled(parent *NodeInstance) {
	if parent.substate == SubstateExecuting && parent.pendingChildren == 0 {
		s.complete(parent)
	}
}

// faultNode terminates a node into the faulted substate and propagates a
// fault continuation to its parent. Unrelated sibling subtrees keep
// draining; only a fault unhandled all the way to the root ends the run
// with a fault outcome.
func (s *Scheduler) faultNode(node *NodeInstance, fault error) {
	s.eng.dropBookmark(node)
	node.substate = SubstateFaulted
	node.fault = fault
	s.eng.notifyFinished(node)
	s.eng.logf("fault in %s (%s): %v", node.activity.Name(), node.id, fault)

	for _, child := range node.children {
		if !child.substate.Terminal() {
			s.requestCancel(child)
		}
	}
	parent := node.parent
	if parent == nil {
		s.rootFault = fault
		return
	}
	if parent.substate.Terminal() {
		return
	}
	s.push(workItem{node: parent, op: opDeliverFault, child: node, fault: fault})
}

func (s *Scheduler) deliverFault(parent *NodeInstance, child *NodeInstance, fault error) {
	parent.pendingChildren--
	if parent.substate == SubstateCanceling {
		s.maybeFinishCancel(parent)
		return
	}
	if parent.substate != SubstateExecuting {
		return
	}
	if handler, ok := parent.activity.(activity.FaultHandler); ok {
		handled, outcome, err := handler.ChildFaulted(s.eng.contextFor(parent), child.activity, fault)
		if err != nil {
			s.faultNode(parent, err)
			return
		}
		if handled {
			s.handleOutcome(parent, outcome)
			return
		}
	}
	s.faultNode(parent, fault)
}

// requestCancel starts the cooperative cancel fan-out. Terminal nodes are
// untouched (cancellation is idempotent); pre-executing nodes cancel
// immediately since their side effects have not begun.
func (s *Scheduler) requestCancel(node *NodeInstance) {
	if node.substate.Terminal() {
		return
	}
	if node.substate == SubstateCanceling {
		// Re-driving an in-flight cancel (e.g. after resume) only rechecks
		// whether the children have settled.
		s.maybeFinishCancel(node)
		return
	}
	node.cancelRequested = true
	if node.substate.PreExecuting() {
		s.finishCancel(node)
		return
	}
	node.substate = SubstateCanceling
	s.eng.dropBookmark(node)
	if canceler, ok := node.activity.(activity.Canceler); ok {
		if err := canceler.Cancel(s.eng.contextFor(node)); err != nil {
			s.faultNode(node, err)
			return
		}
	}
	for _, child := range node.children {
		if !child.substate.Terminal() {
			s.requestCancel(child)
		}
	}
	s.maybeFinishCancel(node)
}

func (s *Scheduler) maybeFinishCancel(node *NodeInstance) {
	if node.substate == SubstateCanceling && node.pendingChildren == 0 {
		s.finishCancel(node)
	}
}

func (s *Scheduler) finishCancel(node *NodeInstance) {
	s.eng.dropBookmark(node)
	node.substate = SubstateCanceled
	s.eng.notifyFinished(node)

	parent := node.parent
	if parent == nil || parent.substate.Terminal() {
		return
	}
	parent.pendingChildren--
	if parent.substate == SubstateCanceling {
		s.maybeFinishCancel(parent)
		return
	}
	// A child canceled underneath an executing parent settles like any
	// other terminal child, without a completion value.
	s.childrenSettled(parent)
}

func (s *Scheduler) resumeBookmark(node *NodeInstance, input any) {
	if node.substate != SubstateExecuting {
		return
	}
	name := node.bookmark
	s.eng.dropBookmark(node)
	handler, ok := node.activity.(activity.InputHandler)
	if !ok {
		s.faultNode(node, fmt.Errorf("engine: %s cannot receive input", node.activity.Name()))
		return
	}
	outcome, err := handler.InputReceived(s.eng.contextFor(node), name, input)
	if err != nil {
		s.faultNode(node, err)
		return
	}
	s.handleOutcome(node, outcome)
}
