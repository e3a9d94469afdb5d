package engine

import (
	"fmt"
	"reflect"

	"github.com/wforney/corewf-sub005/internal/activity"
	"github.com/wforney/corewf-sub005/internal/env"
	"github.com/wforney/corewf-sub005/internal/txn"
)

// scopeView adapts an environment chain to the read surface expression
// front ends evaluate against.
type scopeView struct {
	env *env.Environment
}

func (s scopeView) Lookup(name string) (any, bool) {
	if s.env == nil {
		return nil, false
	}
	loc, ok := s.env.LookupName(name)
	if !ok {
		return nil, false
	}
	return loc.Get(), true
}

// execContext is the engine's implementation of activity.Context. One is
// handed to the activity for every lifecycle callback; it is only valid
// on the scheduler's thread of control.
type execContext struct {
	eng  *Engine
	node *NodeInstance
}

func (e *Engine) contextFor(node *NodeInstance) activity.Context {
	return &execContext{eng: e, node: node}
}

func (c *execContext) InstanceID() string {
	return c.node.id
}

func (c *execContext) ScheduleChild(child activity.Activity) error {
	if child == nil {
		return fmt.Errorf("engine: cannot schedule nil activity under %s", c.node.activity.Name())
	}
	return c.eng.sched.scheduleChild(c.node, child)
}

func (c *execContext) SetResult(value any) error {
	if c.node.resultLoc == nil {
		return fmt.Errorf("engine: %s declares no result", c.node.activity.Name())
	}
	return c.node.resultLoc.Set(value)
}

func (c *execContext) Read(name string) (any, error) {
	if c.node.env == nil {
		return nil, &env.UnknownSymbolError{Name: name}
	}
	loc, ok := c.node.env.LookupName(name)
	if !ok {
		return nil, &env.UnknownSymbolError{Name: name}
	}
	return loc.Get(), nil
}

func (c *execContext) Write(name string, value any) error {
	if c.node.env == nil {
		return &env.UnknownSymbolError{Name: name}
	}
	loc, ok := c.node.env.LookupName(name)
	if !ok {
		return &env.UnknownSymbolError{Name: name}
	}
	return loc.Set(value)
}

func (c *execContext) Evaluate(text string, expected reflect.Type) (any, error) {
	return c.eng.evaluateIn(scopeView{env: c.node.env}, text, expected)
}

func (c *execContext) CreateBookmark(name string) error {
	return c.eng.addBookmark(name, c.node)
}

func (c *execContext) CancelRequested() bool {
	return c.node.cancelRequested
}

func (c *execContext) Transaction() txn.Transaction {
	return c.eng.ambient
}

func (c *execContext) Logf(format string, args ...any) {
	c.eng.logf(format, args...)
}
