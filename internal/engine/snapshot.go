package engine

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/wforney/corewf-sub005/internal/env"
)

// Snapshot is the durable image of one run at a quiescent point. It holds
// plain data only: instances reference their activity definition by
// preorder index, environments flatten to location records, and captured
// continuations persist as values. Restore re-binds everything against
// the stateless definition tree.
type Snapshot struct {
	RunID          string           `json:"run_id"`
	Status         RunStatus        `json:"status"`
	TakenAt        time.Time        `json:"taken_at"`
	NextLocationID int              `json:"next_location_id"`
	DrainCount     uint64           `json:"drain_count"`
	Instances      []InstanceRecord `json:"instances"`
}

// InstanceRecord is one node instance in preorder. Children therefore
// always follow their parent, which lets restore rebuild the tree and
// the environment chain in a single forward pass.
type InstanceRecord struct {
	ID              string              `json:"id"`
	ParentID        string              `json:"parent_id,omitempty"`
	DefIndex        int                 `json:"def_index"`
	Substate        Substate            `json:"substate"`
	Bookmark        string              `json:"bookmark,omitempty"`
	Fault           string              `json:"fault,omitempty"`
	CancelRequested bool                `json:"cancel_requested,omitempty"`
	OwnsEnv         bool                `json:"owns_env,omitempty"`
	Locations       []LocationRecord    `json:"locations,omitempty"`
	ResultLocation  int                 `json:"result_location,omitempty"`
	Continuation    *ContinuationRecord `json:"continuation,omitempty"`
}

// LocationRecord flattens one environment cell. AliasOf carries the
// target location id for by-reference bindings; the value lives only at
// the alias target.
type LocationRecord struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Value   any    `json:"value,omitempty"`
	AliasOf int    `json:"alias_of,omitempty"`
}

// ContinuationRecord persists a completion continuation as data. The
// handler side is not stored; restore re-binds it from the parent's
// activity definition.
type ContinuationRecord struct {
	Value     any    `json:"value,omitempty"`
	Type      string `json:"type,omitempty"`
	Captured  bool   `json:"captured"`
	Delivered bool   `json:"delivered"`
}

// typeNames maps persistable value types to stable names. Snapshot
// values round-trip through JSON, so the table covers the scalar kinds
// expressions can produce; richer types degrade to their JSON shape and
// restore untyped.
var typeNames = map[reflect.Type]string{
	reflect.TypeOf(int(0)):     "int",
	reflect.TypeOf(int64(0)):   "int64",
	reflect.TypeOf(float64(0)): "float64",
	reflect.TypeOf(""):         "string",
	reflect.TypeOf(false):      "bool",
}

var namedTypes = func() map[string]reflect.Type {
	out := make(map[string]reflect.Type, len(typeNames))
	for typ, name := range typeNames {
		out[name] = typ
	}
	return out
}()

func typeName(typ reflect.Type) string {
	if typ == nil {
		return ""
	}
	if name, ok := typeNames[typ]; ok {
		return name
	}
	return typ.String()
}

func typeByName(name string) (reflect.Type, error) {
	if name == "" {
		return nil, nil
	}
	if typ, ok := namedTypes[name]; ok {
		return typ, nil
	}
	return nil, fmt.Errorf("engine: cannot restore type %q", name)
}

// Snapshot serializes the current tree. Call only at quiescence; taking
// a snapshot mid-drain would capture work items that are never persisted.
func (e *Engine) Snapshot(outcome Outcome) (Snapshot, error) {
	snap := Snapshot{
		RunID:          e.runID,
		Status:         outcome.Status,
		TakenAt:        e.clock(),
		NextLocationID: e.nextLoc,
		DrainCount:     e.sched.drains,
	}
	if e.rootInstance == nil {
		return snap, nil
	}
	var failed error
	e.rootInstance.walkSubtree(func(n *NodeInstance) {
		if failed != nil {
			return
		}
		rec, err := recordInstance(n)
		if err != nil {
			failed = err
			return
		}
		snap.Instances = append(snap.Instances, rec)
	})
	return snap, failed
}

func recordInstance(n *NodeInstance) (InstanceRecord, error) {
	rec := InstanceRecord{
		ID:              n.id,
		DefIndex:        n.defIndex,
		Substate:        n.substate,
		Bookmark:        n.bookmark,
		CancelRequested: n.cancelRequested,
		OwnsEnv:         n.ownsEnv,
	}
	if n.parent != nil {
		rec.ParentID = n.parent.id
	}
	if n.fault != nil {
		rec.Fault = n.fault.Error()
	}
	if n.resultLoc != nil {
		rec.ResultLocation = n.resultLoc.ID()
	}
	if n.ownsEnv {
		for _, loc := range n.env.Locations() {
			lr := LocationRecord{
				ID:   loc.ID(),
				Name: loc.Name(),
				Type: typeName(loc.Type()),
			}
			if target := loc.Alias(); target != nil {
				lr.AliasOf = target.ID()
			} else {
				lr.Value = loc.Get()
			}
			rec.Locations = append(rec.Locations, lr)
		}
	}
	if c := n.continuation; c != nil && c.captured && !c.delivered {
		rec.Continuation = &ContinuationRecord{
			Value:     c.value,
			Type:      typeName(c.expected),
			Captured:  true,
			Delivered: false,
		}
	}
	return rec, nil
}

// Resume loads the last snapshot from the store, rebuilds the instance
// tree, re-enqueues the work each non-terminal substate implies, and
// drains to quiescence.
func (e *Engine) Resume() (Outcome, error) {
	if e.store == nil {
		return Outcome{}, fmt.Errorf("engine: resume requires a snapshot store")
	}
	snap, err := e.store.Load()
	if err != nil {
		return Outcome{}, err
	}
	if err := e.Restore(snap); err != nil {
		return Outcome{}, err
	}
	outcome := e.sched.RunToQuiescence()
	return outcome, e.persist(outcome)
}

// Restore rebuilds engine state from a snapshot taken against the same
// definition tree. The engine must not have started a run yet.
func (e *Engine) Restore(snap Snapshot) error {
	if e.rootInstance != nil {
		return fmt.Errorf("engine: restore over a live run")
	}
	if len(snap.Instances) == 0 {
		return fmt.Errorf("engine: snapshot holds no instances")
	}
	e.runID = snap.RunID
	e.nextLoc = snap.NextLocationID
	e.sched.drains = snap.DrainCount

	type aliasFix struct {
		loc      int
		target   int
		instance string
	}
	locations := map[int]locationRef{}
	var aliases []aliasFix

	for _, rec := range snap.Instances {
		if rec.DefIndex < 0 || rec.DefIndex >= len(e.defByIndex) {
			return fmt.Errorf("engine: snapshot references unknown definition index %d", rec.DefIndex)
		}
		node := &NodeInstance{
			id:              rec.ID,
			activity:        e.defByIndex[rec.DefIndex],
			defIndex:        rec.DefIndex,
			substate:        rec.Substate,
			cancelRequested: rec.CancelRequested,
		}
		if rec.Fault != "" {
			node.fault = errors.New(rec.Fault)
		}
		if rec.ParentID == "" {
			if e.rootInstance != nil {
				return fmt.Errorf("engine: snapshot holds two roots (%s, %s)", e.rootInstance.id, rec.ID)
			}
			e.rootInstance = node
		} else {
			parent, ok := e.instances[rec.ParentID]
			if !ok {
				return fmt.Errorf("engine: instance %s appears before its parent %s", rec.ID, rec.ParentID)
			}
			node.parent = parent
			parent.children = append(parent.children, node)
		}
		if rec.OwnsEnv {
			node.env = newEnvUnder(parentEnvironment(node), len(rec.Locations))
			node.ownsEnv = true
			for _, lr := range rec.Locations {
				typ, err := typeByName(lr.Type)
				if err != nil {
					return err
				}
				loc, err := node.env.Declare(lr.ID, lr.Name, typ)
				if err != nil {
					return err
				}
				locations[lr.ID] = locationRef{loc: loc, instance: rec.ID}
				if lr.AliasOf != 0 {
					aliases = append(aliases, aliasFix{loc: lr.ID, target: lr.AliasOf, instance: rec.ID})
					continue
				}
				if lr.Value == nil {
					continue
				}
				if err := loc.Set(lr.Value); err != nil {
					return fmt.Errorf("engine: restore %s.%s: %w", rec.ID, lr.Name, err)
				}
			}
		} else if node.parent != nil {
			node.env = node.parent.env
		}
		if rec.ResultLocation != 0 {
			ref, ok := locations[rec.ResultLocation]
			if !ok {
				return fmt.Errorf("engine: result location %d of %s is not in the snapshot", rec.ResultLocation, rec.ID)
			}
			node.resultLoc = ref.loc
		}
		if rec.Bookmark != "" {
			if err := e.addBookmark(rec.Bookmark, node); err != nil {
				return err
			}
		}
		e.instances[rec.ID] = node
	}

	for _, fix := range aliases {
		from, ok := locations[fix.loc]
		if !ok {
			return fmt.Errorf("engine: alias source %d missing", fix.loc)
		}
		to, ok := locations[fix.target]
		if !ok {
			return fmt.Errorf("engine: alias target %d of instance %s missing", fix.target, fix.instance)
		}
		if err := from.loc.BindAlias(to.loc); err != nil {
			return err
		}
	}

	// Continuations and derived counters need the whole tree in place.
	for _, rec := range snap.Instances {
		node := e.instances[rec.ID]
		for _, child := range node.children {
			if !child.substate.Terminal() {
				node.pendingChildren++
			}
		}
		if node.parent == nil {
			continue
		}
		switch {
		case rec.Continuation != nil:
			cont := newContinuation(node.parent, node)
			value, err := convertResult(rec.Continuation.Value, cont.expected, node.activity.Name())
			if err != nil {
				return err
			}
			cont.value = value
			cont.captured = rec.Continuation.Captured
			cont.delivered = rec.Continuation.Delivered
			node.continuation = cont
		case !node.substate.Terminal():
			// A live child still owes its parent a completion; re-bind
			// the continuation it was created with.
			node.continuation = newContinuation(node.parent, node)
		}
	}

	return e.reconstructPendingWork()
}

type locationRef struct {
	loc      *env.Location
	instance string
}

// reconstructPendingWork re-enqueues, in preorder, the operation each
// non-terminal substate implies. Snapshots are taken at quiescence, so
// a substate fully determines what (if anything) the node was waiting
// to do next.
func (e *Engine) reconstructPendingWork() error {
	var failed error
	e.rootInstance.walkSubtree(func(n *NodeInstance) {
		if failed != nil || n.substate.Terminal() {
			return
		}
		switch n.substate {
		case SubstateCreated:
			failed = e.sched.Enqueue(n, opResolveArguments)
		case SubstateResolvingArguments:
			failed = e.sched.Enqueue(n, opResolveVariables)
		case SubstateInitialized:
			failed = e.sched.Enqueue(n, opExecute)
		case SubstateExecuting:
			if n.bookmark != "" {
				return
			}
			for _, child := range n.children {
				c := child.continuation
				if c == nil || !c.captured || c.delivered {
					continue
				}
				failed = e.sched.push(workItem{node: n, op: opDeliverCompletion, cont: c, child: child})
				if failed != nil {
					return
				}
			}
		case SubstateCanceling:
			failed = e.sched.Enqueue(n, opCancel)
		}
	})
	return failed
}

// parentEnvironment is the chain point for a restored node's own
// environment: the nearest ancestor environment, or nil at the root.
func parentEnvironment(node *NodeInstance) *env.Environment {
	if node.parent == nil {
		return nil
	}
	return node.parent.env
}
