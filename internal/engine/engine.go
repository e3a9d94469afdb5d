// Package engine executes a declarative tree of activities to completion
// or to a durable suspension point. A single-threaded, reentrancy-guarded
// scheduler drives each node instance through its lifecycle; hierarchical
// environments scope the variables a node sees; completion continuations
// carry child results back to parents across checkpoints.
package engine

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wforney/corewf-sub005/internal/activity"
	"github.com/wforney/corewf-sub005/internal/env"
	"github.com/wforney/corewf-sub005/internal/expr"
	"github.com/wforney/corewf-sub005/internal/logging"
	"github.com/wforney/corewf-sub005/internal/txn"
)

const resultSlotName = "__result"

// Engine hosts one running activity tree. External callers (run, resume,
// input delivery, cancellation) all funnel through the scheduler's single
// logical thread of control; the engine itself performs no blocking I/O.
type Engine struct {
	root     activity.Activity
	compiler activity.Compiler
	store    StateStore
	observer Observer
	logger   *logging.Logger
	clock    func() time.Time
	ambient  txn.Transaction

	sched        *Scheduler
	rootInstance *NodeInstance
	instances    map[string]*NodeInstance
	bookmarks    map[string]*NodeInstance

	defIndex   map[activity.Activity]int
	defByIndex []activity.Activity

	runID   string
	nextLoc int
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithCompiler selects the expression front end.
func WithCompiler(c activity.Compiler) Option {
	return func(e *Engine) {
		if c != nil {
			e.compiler = c
		}
	}
}

// WithStore wires a snapshot store for checkpoint/restore.
func WithStore(store StateStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithObserver installs the pre/post node-execution hook. Purely
// observational; it must never alter scheduling outcome.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithLogger wires the run log.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithTransaction threads an ambient transaction handle through every
// execution context.
func WithTransaction(tx txn.Transaction) Option {
	return func(e *Engine) {
		e.ambient = tx
	}
}

// New wires an engine to a root activity definition.
func New(root activity.Activity, opts ...Option) (*Engine, error) {
	if root == nil {
		return nil, fmt.Errorf("engine: root activity is required")
	}
	e := &Engine{
		root:      root,
		compiler:  expr.NewGoCompiler(),
		clock:     time.Now,
		instances: map[string]*NodeInstance{},
		bookmarks: map[string]*NodeInstance{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sched = newScheduler(e)
	e.indexDefinition()
	return e, nil
}

// indexDefinition assigns a preorder index to every activity reachable
// through Composite children. Instances checkpoint their definition by
// this index so restore can re-bind the stateless activity tree.
func (e *Engine) indexDefinition() {
	e.defIndex = map[activity.Activity]int{}
	e.defByIndex = nil
	var walk func(a activity.Activity)
	walk = func(a activity.Activity) {
		if _, seen := e.defIndex[a]; seen {
			return
		}
		e.defIndex[a] = len(e.defByIndex)
		e.defByIndex = append(e.defByIndex, a)
		if comp, ok := a.(activity.Composite); ok {
			for _, child := range comp.Children() {
				walk(child)
			}
		}
	}
	walk(e.root)
}

func (e *Engine) defIndexOf(a activity.Activity) int {
	if idx, ok := e.defIndex[a]; ok {
		return idx
	}
	return -1
}

// RunID identifies the current run, or "" before Run/Resume.
func (e *Engine) RunID() string { return e.runID }

// Root returns the root node instance, or nil before Run/Resume.
func (e *Engine) Root() *NodeInstance { return e.rootInstance }

// Run starts a fresh run of the definition tree and drains to quiescence.
func (e *Engine) Run() (Outcome, error) {
	if e.rootInstance != nil {
		return Outcome{}, fmt.Errorf("engine: run already started; use Resume or DeliverInput")
	}
	e.runID = newRunID(e.root.Name(), e.clock())
	e.rootInstance = &NodeInstance{
		id:       uuid.NewString(),
		activity: e.root,
		defIndex: 0,
		substate: SubstateCreated,
	}
	e.sched.attachEnvironment(e.rootInstance)
	e.instances[e.rootInstance.id] = e.rootInstance
	if err := e.sched.Enqueue(e.rootInstance, opResolveArguments); err != nil {
		return Outcome{}, err
	}
	outcome := e.sched.RunToQuiescence()
	return outcome, e.persist(outcome)
}

// DeliverInput resumes the node holding the named bookmark with an
// external value and drains to quiescence.
func (e *Engine) DeliverInput(bookmark string, value any) (Outcome, error) {
	node, ok := e.bookmarks[bookmark]
	if !ok {
		return Outcome{}, fmt.Errorf("engine: no open bookmark %q", bookmark)
	}
	if err := e.sched.push(workItem{node: node, op: opResumeBookmark, input: value}); err != nil {
		return Outcome{}, err
	}
	outcome := e.sched.RunToQuiescence()
	return outcome, e.persist(outcome)
}

// Cancel requests cooperative cancellation of the whole tree. Canceling
// an already-terminal run is a no-op.
func (e *Engine) Cancel() (Outcome, error) {
	if e.rootInstance == nil {
		return Outcome{Status: StatusIdle}, nil
	}
	if e.rootInstance.substate.Terminal() {
		return e.sched.outcome(), nil
	}
	if err := e.sched.Enqueue(e.rootInstance, opCancel); err != nil {
		return Outcome{}, err
	}
	outcome := e.sched.RunToQuiescence()
	return outcome, e.persist(outcome)
}

// Bookmarks lists the open suspension points in sorted order.
func (e *Engine) Bookmarks() []string {
	names := make([]string, 0, len(e.bookmarks))
	for name := range e.bookmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddSymbols allocates (or replaces) a node's own environment at runtime
// and declares additional variables on it. Every descendant that chained
// through the node's previous effective environment is re-pointed at the
// new one; the rewrite is atomic with respect to the scheduler, so no
// work item ever observes a half-migrated chain.
func (e *Engine) AddSymbols(instanceID string, decls []activity.VariableDecl) error {
	if e.sched.draining {
		return ErrBusy
	}
	node, ok := e.instances[instanceID]
	if !ok {
		return fmt.Errorf("engine: unknown instance %s", instanceID)
	}
	if node.substate.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidOperation, instanceID)
	}
	oldEnv := node.env
	capacity := len(decls)
	var replacement *env.Environment
	if node.ownsEnv {
		capacity += oldEnv.Len()
		replacement = newEnvUnder(oldEnv.Parent(), capacity)
		for _, loc := range oldEnv.Locations() {
			if err := replacement.Adopt(loc); err != nil {
				return err
			}
		}
	} else {
		replacement = newEnvUnder(oldEnv, capacity)
	}
	for _, decl := range decls {
		loc, err := replacement.Declare(e.nextLocationID(), decl.Name, decl.Type)
		if err != nil {
			return err
		}
		if decl.Default == "" {
			continue
		}
		value, err := e.evaluateIn(scopeView{env: replacement}, decl.Default, decl.Type)
		if err != nil {
			return err
		}
		if err := loc.Set(value); err != nil {
			return err
		}
	}
	node.env = replacement
	node.ownsEnv = true
	node.walkSubtree(func(desc *NodeInstance) {
		if desc == node {
			return
		}
		if !desc.ownsEnv {
			if desc.env == oldEnv {
				desc.env = replacement
			}
			return
		}
		if desc.env.Parent() == oldEnv {
			desc.env.Reparent(replacement)
		}
	})
	return nil
}

func newEnvUnder(parent *env.Environment, capacity int) *env.Environment {
	if parent == nil {
		return env.New(capacity)
	}
	return parent.CreateChild(capacity)
}

// NodeView is the read-only projection of an instance for status
// consumers (CLI, TUI, tests).
type NodeView struct {
	ID       string
	Activity string
	Substate Substate
	Depth    int
	Bookmark string
	Error    string
}

// Instances returns the current tree in preorder.
func (e *Engine) Instances() []NodeView {
	if e.rootInstance == nil {
		return nil
	}
	var out []NodeView
	var walk func(n *NodeInstance, depth int)
	walk = func(n *NodeInstance, depth int) {
		view := NodeView{
			ID:       n.id,
			Activity: n.activity.Name(),
			Substate: n.substate,
			Depth:    depth,
			Bookmark: n.bookmark,
		}
		if n.fault != nil {
			view.Error = n.fault.Error()
		}
		out = append(out, view)
		for _, child := range n.children {
			walk(child, depth+1)
		}
	}
	walk(e.rootInstance, 0)
	return out
}

func (e *Engine) persist(outcome Outcome) error {
	if e.store == nil {
		return nil
	}
	snapshot, err := e.Snapshot(outcome)
	if err != nil {
		return err
	}
	return e.store.Save(snapshot)
}

func (e *Engine) nextLocationID() int {
	e.nextLoc++
	return e.nextLoc
}

func (e *Engine) newRootEnv(capacity int) *env.Environment {
	return env.New(capacity)
}

// effectiveEnv is the environment a node resolves names through: its own
// if it declared symbols, otherwise the nearest ancestor's.
func (e *Engine) effectiveEnv(node *NodeInstance) *env.Environment {
	if node == nil {
		return nil
	}
	return node.env
}

func (e *Engine) addBookmark(name string, node *NodeInstance) error {
	if name == "" {
		return fmt.Errorf("engine: bookmark name is required")
	}
	if holder, exists := e.bookmarks[name]; exists {
		return fmt.Errorf("engine: bookmark %q already held by %s", name, holder.id)
	}
	e.bookmarks[name] = node
	node.bookmark = name
	return nil
}

func (e *Engine) dropBookmark(node *NodeInstance) {
	if node.bookmark == "" {
		return
	}
	delete(e.bookmarks, node.bookmark)
	node.bookmark = ""
}

func (e *Engine) notifyStarting(node *NodeInstance) {
	if e.observer == nil {
		return
	}
	e.observer.NodeStarting(nodeInfo(node))
}

func (e *Engine) notifyFinished(node *NodeInstance) {
	if e.observer == nil {
		return
	}
	e.observer.NodeFinished(nodeInfo(node))
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

// evaluateIn compiles (memoized by the front end) and runs an expression
// against the given scope.
func (e *Engine) evaluateIn(scope activity.Scope, text string, expected reflect.Type) (any, error) {
	inv, err := e.compiler.Compile(text, expected)
	if err != nil {
		return nil, err
	}
	return inv.Invoke(scope)
}

func newRunID(rootName string, now time.Time) string {
	base := strings.TrimSpace(rootName)
	if base == "" {
		base = "workflow"
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	return fmt.Sprintf("%s-%d", base, now.UnixNano())
}
