// Package expr provides the textual expression front ends the engine
// consults when resolving argument and variable defaults. Two
// interchangeable compilers are available: a Go-syntax front end backed by
// yaegi and a literal front end for constant values and bare variable
// references. Both satisfy activity.Compiler.
package expr

import (
	"fmt"
	"go/ast"
	"go/parser"
	"reflect"
	"sort"
)

// CompileError is the compile-time diagnostic a front end reports for a
// malformed expression.
type CompileError struct {
	Text   string
	Detail string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("expr: cannot compile %q: %s", e.Text, e.Detail)
}

// Default watermarks for the compiled-artifact cache. Many node instances
// of the same definition share one compiled expression, which is the whole
// point of memoizing here.
const (
	defaultCacheLow  = 64
	defaultCacheHigh = 96
)

type cacheKey struct {
	text     string
	expected string
}

func keyFor(text string, expected reflect.Type) cacheKey {
	key := cacheKey{text: text}
	if expected != nil {
		key.expected = expected.String()
	}
	return key
}

// freeIdentifiers parses the expression and returns its identifiers in
// sorted order. Parsing also doubles as the compile-time syntax check.
func freeIdentifiers(text string) ([]string, error) {
	node, err := parser.ParseExpr(text)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	ast.Inspect(node, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			// Only the receiver of a selector can be a scope variable.
			ast.Inspect(sel.X, func(inner ast.Node) bool {
				if ident, ok := inner.(*ast.Ident); ok {
					seen[ident.Name] = struct{}{}
				}
				return true
			})
			return false
		}
		if ident, ok := n.(*ast.Ident); ok {
			seen[ident.Name] = struct{}{}
		}
		return true
	})
	delete(seen, "true")
	delete(seen, "false")
	delete(seen, "nil")
	idents := make([]string, 0, len(seen))
	for name := range seen {
		idents = append(idents, name)
	}
	sort.Strings(idents)
	return idents, nil
}

func convert(value any, expected reflect.Type, text string) (any, error) {
	if expected == nil || value == nil {
		return value, nil
	}
	vt := reflect.TypeOf(value)
	if vt.AssignableTo(expected) {
		return value, nil
	}
	if vt.ConvertibleTo(expected) {
		return reflect.ValueOf(value).Convert(expected).Interface(), nil
	}
	return nil, fmt.Errorf("expr: %q produced %s, want %s", text, vt, expected)
}
