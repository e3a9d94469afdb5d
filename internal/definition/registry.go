package definition

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wforney/corewf-sub005/internal/activities"
	"github.com/wforney/corewf-sub005/internal/activity"
)

// Builder materializes a validated subtree. Factories call it for their
// child specs instead of recursing into the registry directly.
type Builder func(NodeSpec) (activity.Activity, error)

// Factory constructs an activity for one node kind.
type Factory func(spec NodeSpec, build Builder) (activity.Activity, error)

// Registry maintains known node-kind factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory. Returns an error if the kind already
// exists.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("definition: kind is required")
	}
	if factory == nil {
		return fmt.Errorf("definition: factory is required for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("definition: %s already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind string, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Kinds returns a sorted list of registered node kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Build materializes the whole definition: the root node plus the
// definition-level variables declared on it.
func (r *Registry) Build(def *Definition) (activity.Activity, error) {
	if def == nil {
		return nil, fmt.Errorf("definition: nil definition")
	}
	root, err := r.buildNode(def.Root)
	if err != nil {
		return nil, fmt.Errorf("definition %s: %w", def.Name, err)
	}
	if len(def.Variables) == 0 {
		return root, nil
	}
	decls := make([]activity.VariableDecl, 0, len(def.Variables))
	for _, v := range def.Variables {
		decl, err := v.Decl()
		if err != nil {
			return nil, fmt.Errorf("definition %s: variable %s: %w", def.Name, v.Name, err)
		}
		decls = append(decls, decl)
	}
	scope := activities.NewSequence(def.Name, root)
	scope.AddVariables(decls...)
	return scope, nil
}

func (r *Registry) buildNode(spec NodeSpec) (activity.Activity, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown node kind %q", spec.Kind)
	}
	built, err := factory(spec, r.buildNode)
	if err != nil {
		return nil, err
	}
	return built, nil
}

// Builtin returns a registry preloaded with the standard activity
// library kinds.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister("sequence", buildSequence)
	r.MustRegister("parallel", buildParallel)
	r.MustRegister("if", buildIf)
	r.MustRegister("while", buildWhile)
	r.MustRegister("assign", buildAssign)
	r.MustRegister("compute", buildCompute)
	r.MustRegister("writeline", buildWriteLine)
	r.MustRegister("receive", buildReceive)
	r.MustRegister("transaction", buildTransaction)
	return r
}

func nodeName(spec NodeSpec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return spec.Kind
}

func buildChildren(spec NodeSpec, build Builder) ([]activity.Activity, error) {
	out := make([]activity.Activity, 0, len(spec.Children))
	for i, child := range spec.Children {
		built, err := build(child)
		if err != nil {
			return nil, fmt.Errorf("%s children[%d]: %w", nodeName(spec), i, err)
		}
		out = append(out, built)
	}
	return out, nil
}

func buildSequence(spec NodeSpec, build Builder) (activity.Activity, error) {
	children, err := buildChildren(spec, build)
	if err != nil {
		return nil, err
	}
	seq := activities.NewSequence(nodeName(spec), children...)
	for _, v := range spec.Variables {
		decl, err := v.Decl()
		if err != nil {
			return nil, fmt.Errorf("%s: variable %s: %w", nodeName(spec), v.Name, err)
		}
		seq.AddVariables(decl)
	}
	return seq, nil
}

func buildParallel(spec NodeSpec, build Builder) (activity.Activity, error) {
	children, err := buildChildren(spec, build)
	if err != nil {
		return nil, err
	}
	return activities.NewParallel(nodeName(spec), children...), nil
}

func buildIf(spec NodeSpec, build Builder) (activity.Activity, error) {
	if spec.Condition == "" {
		return nil, fmt.Errorf("%s: condition is required", nodeName(spec))
	}
	var then, otherwise activity.Activity
	var err error
	if spec.Then != nil {
		if then, err = build(*spec.Then); err != nil {
			return nil, fmt.Errorf("%s then: %w", nodeName(spec), err)
		}
	}
	if spec.Else != nil {
		if otherwise, err = build(*spec.Else); err != nil {
			return nil, fmt.Errorf("%s else: %w", nodeName(spec), err)
		}
	}
	return activities.NewIf(nodeName(spec), spec.Condition, then, otherwise), nil
}

func buildWhile(spec NodeSpec, build Builder) (activity.Activity, error) {
	if spec.Condition == "" {
		return nil, fmt.Errorf("%s: condition is required", nodeName(spec))
	}
	var body activity.Activity
	if spec.Body != nil {
		built, err := build(*spec.Body)
		if err != nil {
			return nil, fmt.Errorf("%s body: %w", nodeName(spec), err)
		}
		body = built
	}
	return activities.NewWhile(nodeName(spec), spec.Condition, body), nil
}

func buildAssign(spec NodeSpec, _ Builder) (activity.Activity, error) {
	if spec.To == "" {
		return nil, fmt.Errorf("%s: to is required", nodeName(spec))
	}
	if spec.Value == "" {
		return nil, fmt.Errorf("%s: value is required", nodeName(spec))
	}
	return activities.NewAssign(nodeName(spec), spec.To, spec.Value), nil
}

func buildCompute(spec NodeSpec, _ Builder) (activity.Activity, error) {
	if spec.Expression == "" {
		return nil, fmt.Errorf("%s: expression is required", nodeName(spec))
	}
	typ, err := typeByName(spec.Result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", nodeName(spec), err)
	}
	return activities.NewCompute(nodeName(spec), spec.Expression, typ), nil
}

func buildWriteLine(spec NodeSpec, _ Builder) (activity.Activity, error) {
	if spec.Text == "" {
		return nil, fmt.Errorf("%s: text is required", nodeName(spec))
	}
	return activities.NewWriteLine(nodeName(spec), spec.Text), nil
}

func buildTransaction(spec NodeSpec, build Builder) (activity.Activity, error) {
	var body activity.Activity
	if spec.Body != nil {
		built, err := build(*spec.Body)
		if err != nil {
			return nil, fmt.Errorf("%s body: %w", nodeName(spec), err)
		}
		body = built
	}
	return activities.NewTransactionScope(nodeName(spec), body), nil
}

func buildReceive(spec NodeSpec, _ Builder) (activity.Activity, error) {
	if spec.Bookmark == "" {
		return nil, fmt.Errorf("%s: bookmark is required", nodeName(spec))
	}
	var opts []activities.ReceiveOption
	if spec.To != "" {
		opts = append(opts, activities.WriteTo(spec.To))
	}
	if spec.Result != "" {
		typ, err := typeByName(spec.Result)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", nodeName(spec), err)
		}
		if typ != nil {
			opts = append(opts, activities.WithResult(typ))
		}
	}
	return activities.NewReceive(nodeName(spec), spec.Bookmark, opts...), nil
}
