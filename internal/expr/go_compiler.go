package expr

import (
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/wforney/corewf-sub005/internal/activity"
	"github.com/wforney/corewf-sub005/internal/cache"
)

// GoCompiler compiles Go-syntax expressions. Compilation parses the text
// once and records its free identifiers; invocation binds those
// identifiers from the node's scope and evaluates the expression in a
// fresh interpreter, so compiled artifacts stay immutable and cacheable.
type GoCompiler struct {
	compiled *cache.Cache[cacheKey, activity.Invocable]
}

// NewGoCompiler constructs the front end with the default artifact
// cache watermarks.
func NewGoCompiler() *GoCompiler {
	c, err := NewGoCompilerSized(defaultCacheLow, defaultCacheHigh)
	if err != nil {
		// Watermarks are compile-time constants; this cannot happen.
		panic(err)
	}
	return c
}

// NewGoCompilerSized constructs the front end with explicit artifact
// cache watermarks.
func NewGoCompilerSized(low, high int) (*GoCompiler, error) {
	compiled, err := cache.New[cacheKey, activity.Invocable](low, high)
	if err != nil {
		return nil, err
	}
	return &GoCompiler{compiled: compiled}, nil
}

// Compile implements activity.Compiler. Syntax errors surface here, never
// at invocation time.
func (c *GoCompiler) Compile(text string, expected reflect.Type) (activity.Invocable, error) {
	key := keyFor(text, expected)
	if inv, ok := c.compiled.TryGet(key); ok {
		return inv, nil
	}
	idents, err := freeIdentifiers(text)
	if err != nil {
		return nil, &CompileError{Text: text, Detail: err.Error()}
	}
	inv := &goInvocable{text: text, idents: idents, expected: expected}
	c.compiled.Add(key, inv)
	return inv, nil
}

type goInvocable struct {
	text     string
	idents   []string
	expected reflect.Type
}

// Invoke evaluates the expression against the scope. Scope variables are
// bound by emitting literal declarations into the interpreter, which
// limits bindable cells to scalar kinds; that covers the declared
// argument/variable types the engine supports.
func (g *goInvocable) Invoke(scope activity.Scope) (any, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("expr: interpreter setup: %w", err)
	}
	for _, name := range g.idents {
		value, ok := scope.Lookup(name)
		if !ok {
			continue
		}
		lit, ok := scalarLiteral(value)
		if !ok {
			return nil, fmt.Errorf("expr: variable %q has unsupported kind %T for expression %q", name, value, g.text)
		}
		if _, err := i.Eval(fmt.Sprintf("%s := %s; _ = %s", name, lit, name)); err != nil {
			return nil, fmt.Errorf("expr: bind %q: %w", name, err)
		}
	}
	result, err := i.Eval(g.text)
	if err != nil {
		return nil, fmt.Errorf("expr: evaluate %q: %w", g.text, err)
	}
	var value any
	if result.IsValid() && result.CanInterface() {
		value = result.Interface()
	}
	return convert(value, g.expected, g.text)
}

func scalarLiteral(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return fmt.Sprintf("%#v", value), true
	default:
		return "", false
	}
}
