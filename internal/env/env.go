// Package env implements the hierarchical scope chain a node instance
// executes against. An Environment owns an ordered set of Locations
// (argument and variable cells); nodes that declare no symbols of their
// own share the nearest ancestor's Environment instead of allocating one.
package env

import (
	"fmt"
	"reflect"
)

// UnknownSymbolError reports a location id that could not be resolved
// anywhere on the environment chain. This is a tree-construction defect,
// not a recoverable runtime condition.
type UnknownSymbolError struct {
	ID   int
	Name string
}

func (e *UnknownSymbolError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("env: unknown symbol %q", e.Name)
	}
	return fmt.Sprintf("env: unknown symbol id %d", e.ID)
}

// AliasCycleError reports an alias binding that would close a forwarding
// loop between locations.
type AliasCycleError struct {
	ID int
}

func (e *AliasCycleError) Error() string {
	return fmt.Sprintf("env: alias cycle through location %d", e.ID)
}

// Environment is one link of the scope chain. Locations live in the
// environment that declared them; Resolve walks toward the root until the
// requested id is found.
type Environment struct {
	parent    *Environment
	capacity  int
	locations []*Location
}

// New allocates an environment with room for capacity locations.
func New(capacity int) *Environment {
	if capacity < 0 {
		capacity = 0
	}
	return &Environment{capacity: capacity, locations: make([]*Location, 0, capacity)}
}

// CreateChild allocates a new environment chained to the receiver.
func (e *Environment) CreateChild(capacity int) *Environment {
	child := New(capacity)
	child.parent = e
	return child
}

// Parent returns the next environment toward the root, or nil.
func (e *Environment) Parent() *Environment {
	if e == nil {
		return nil
	}
	return e.parent
}

// Reparent re-points the environment at a new ancestor. Used when a node
// gains its own environment at runtime and every descendant that chained
// through the old ancestor must chain through the new one instead.
func (e *Environment) Reparent(parent *Environment) {
	e.parent = parent
}

// Declare adds a location to this environment. Ids must be unique across
// the run so that chain resolution is unambiguous.
func (e *Environment) Declare(id int, name string, typ reflect.Type) (*Location, error) {
	if e.capacity > 0 && len(e.locations) >= e.capacity {
		return nil, fmt.Errorf("env: environment capacity %d exceeded declaring %q", e.capacity, name)
	}
	for _, loc := range e.locations {
		if loc.id == id {
			return nil, fmt.Errorf("env: duplicate location id %d (%q)", id, name)
		}
	}
	loc := &Location{id: id, name: name, typ: typ}
	e.locations = append(e.locations, loc)
	return loc, nil
}

// Adopt moves an existing location into this environment. Used when a
// node's environment is replaced wholesale during a runtime symbol
// addition; the cell itself (and every alias pointing at it) survives.
func (e *Environment) Adopt(loc *Location) error {
	if loc == nil {
		return fmt.Errorf("env: cannot adopt nil location")
	}
	if e.capacity > 0 && len(e.locations) >= e.capacity {
		return fmt.Errorf("env: environment capacity %d exceeded adopting %q", e.capacity, loc.name)
	}
	e.locations = append(e.locations, loc)
	return nil
}

// Resolve walks the parent chain until the id is found. A miss is an
// UnknownSymbolError and aborts the run.
func (e *Environment) Resolve(id int) (*Location, error) {
	for scope := e; scope != nil; scope = scope.parent {
		for _, loc := range scope.locations {
			if loc.id == id {
				return loc, nil
			}
		}
	}
	return nil, &UnknownSymbolError{ID: id}
}

// LookupName finds the nearest location with the given name. Expression
// front ends resolve free identifiers through this.
func (e *Environment) LookupName(name string) (*Location, bool) {
	for scope := e; scope != nil; scope = scope.parent {
		for _, loc := range scope.locations {
			if loc.name == name {
				return loc, true
			}
		}
	}
	return nil, false
}

// Locations returns the environment's own cells in declaration order,
// excluding anything inherited from ancestors.
func (e *Environment) Locations() []*Location {
	out := make([]*Location, len(e.locations))
	copy(out, e.locations)
	return out
}

// Len reports how many locations this environment declared itself.
func (e *Environment) Len() int {
	return len(e.locations)
}

// Location is a typed mutable cell, optionally an alias of a cell in an
// ancestor environment (by-reference argument passing). Reads and writes
// forward through the alias.
type Location struct {
	id    int
	name  string
	typ   reflect.Type
	value any
	alias *Location
}

// ID returns the run-unique location id.
func (l *Location) ID() int { return l.id }

// Name returns the declared symbol name.
func (l *Location) Name() string { return l.name }

// Type returns the declared value type, or nil for untyped cells.
func (l *Location) Type() reflect.Type { return l.typ }

// Alias returns the forwarding target, or nil for a value cell.
func (l *Location) Alias() *Location { return l.alias }

// Get reads the cell value, following the alias chain.
func (l *Location) Get() any {
	target := l.resolveAlias()
	return target.value
}

// Set writes the cell value, following the alias chain. The value must be
// assignable to the declared type.
func (l *Location) Set(value any) error {
	target := l.resolveAlias()
	if value != nil && target.typ != nil {
		vt := reflect.TypeOf(value)
		if !vt.AssignableTo(target.typ) {
			if !vt.ConvertibleTo(target.typ) {
				return fmt.Errorf("env: cannot store %s in location %q of type %s", vt, target.name, target.typ)
			}
			value = reflect.ValueOf(value).Convert(target.typ).Interface()
		}
	}
	target.value = value
	return nil
}

// BindAlias turns the cell into a forwarding reference. Binding fails if
// it would close a cycle; that is a defect in tree construction.
func (l *Location) BindAlias(target *Location) error {
	if target == nil {
		return fmt.Errorf("env: alias target for location %d is nil", l.id)
	}
	for probe := target; probe != nil; probe = probe.alias {
		if probe == l {
			return &AliasCycleError{ID: l.id}
		}
	}
	l.alias = target
	return nil
}

func (l *Location) resolveAlias() *Location {
	target := l
	for target.alias != nil {
		target = target.alias
	}
	return target
}
