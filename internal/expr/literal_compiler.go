package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/wforney/corewf-sub005/internal/activity"
)

// LiteralCompiler is the lightweight front end: it understands constant
// literals (int, float, bool, quoted string) and bare identifiers that
// reference a scope variable. Definitions that never need computed
// expressions can run without the Go front end entirely.
type LiteralCompiler struct{}

// NewLiteralCompiler constructs the front end.
func NewLiteralCompiler() *LiteralCompiler {
	return &LiteralCompiler{}
}

// Compile implements activity.Compiler.
func (c *LiteralCompiler) Compile(text string, expected reflect.Type) (activity.Invocable, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &CompileError{Text: text, Detail: "empty expression"}
	}
	if value, ok := parseConstant(trimmed); ok {
		return &constInvocable{text: trimmed, value: value, expected: expected}, nil
	}
	if isIdentifier(trimmed) {
		return &refInvocable{name: trimmed, expected: expected}, nil
	}
	return nil, &CompileError{Text: text, Detail: "expected a literal or a variable reference"}
}

type constInvocable struct {
	text     string
	value    any
	expected reflect.Type
}

func (c *constInvocable) Invoke(activity.Scope) (any, error) {
	return convert(c.value, c.expected, c.text)
}

type refInvocable struct {
	name     string
	expected reflect.Type
}

func (r *refInvocable) Invoke(scope activity.Scope) (any, error) {
	value, ok := scope.Lookup(r.name)
	if !ok {
		return nil, fmt.Errorf("expr: variable %q is not in scope", r.name)
	}
	return convert(value, r.expected, r.name)
}

func parseConstant(text string) (any, bool) {
	if text == "true" {
		return true, true
	}
	if text == "false" {
		return false, true
	}
	if strings.HasPrefix(text, `"`) {
		if s, err := strconv.Unquote(text); err == nil {
			return s, true
		}
		return nil, false
	}
	if i, err := strconv.Atoi(text); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, true
	}
	return nil, false
}

func isIdentifier(text string) bool {
	for i, r := range text {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return len(text) > 0
}
