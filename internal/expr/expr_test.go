package expr

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type mapScope map[string]any

func (m mapScope) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

var (
	intType    = reflect.TypeOf(0)
	stringType = reflect.TypeOf("")
	boolType   = reflect.TypeOf(false)
)

func TestGoCompilerEvaluatesArithmetic(t *testing.T) {
	c := NewGoCompiler()
	inv, err := c.Compile("x + y*2", intType)
	require.NoError(t, err)

	got, err := inv.Invoke(mapScope{"x": 1, "y": 3})
	require.NoError(t, err)
	require.Equal(t, 7, got)
}

func TestGoCompilerRejectsSyntaxErrorAtCompileTime(t *testing.T) {
	c := NewGoCompiler()
	_, err := c.Compile("x +", intType)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
}

func TestGoCompilerMemoizesCompiledArtifacts(t *testing.T) {
	c := NewGoCompiler()
	first, err := c.Compile("x + 1", intType)
	require.NoError(t, err)
	second, err := c.Compile("x + 1", intType)
	require.NoError(t, err)
	require.Same(t, first, second)

	// Same text with a different expected type is a distinct artifact.
	third, err := c.Compile("x + 1", nil)
	require.NoError(t, err)
	require.NotSame(t, first, third)
}

func TestGoCompilerStringOps(t *testing.T) {
	c := NewGoCompiler()
	inv, err := c.Compile(`greeting + ", " + name`, stringType)
	require.NoError(t, err)
	got, err := inv.Invoke(mapScope{"greeting": "hello", "name": "world"})
	require.NoError(t, err)
	require.Equal(t, "hello, world", got)
}

func TestGoCompilerBooleanCondition(t *testing.T) {
	c := NewGoCompiler()
	inv, err := c.Compile("count < 3", boolType)
	require.NoError(t, err)
	got, err := inv.Invoke(mapScope{"count": 2})
	require.NoError(t, err)
	require.Equal(t, true, got)
	got, err = inv.Invoke(mapScope{"count": 3})
	require.NoError(t, err)
	require.Equal(t, false, got)
}

func TestGoCompilerConvertsResult(t *testing.T) {
	c := NewGoCompiler()
	inv, err := c.Compile("3.0 * 2", intType)
	require.NoError(t, err)
	got, err := inv.Invoke(mapScope{})
	require.NoError(t, err)
	require.Equal(t, 6, got)
}

func TestLiteralCompilerConstants(t *testing.T) {
	c := NewLiteralCompiler()
	cases := []struct {
		text string
		typ  reflect.Type
		want any
	}{
		{"7", intType, 7},
		{`"seven"`, stringType, "seven"},
		{"true", boolType, true},
		{"2.5", nil, 2.5},
	}
	for _, tc := range cases {
		inv, err := c.Compile(tc.text, tc.typ)
		require.NoError(t, err, tc.text)
		got, err := inv.Invoke(mapScope{})
		require.NoError(t, err, tc.text)
		require.Equal(t, tc.want, got, tc.text)
	}
}

func TestLiteralCompilerVariableReference(t *testing.T) {
	c := NewLiteralCompiler()
	inv, err := c.Compile("total", intType)
	require.NoError(t, err)
	got, err := inv.Invoke(mapScope{"total": 41})
	require.NoError(t, err)
	require.Equal(t, 41, got)

	_, err = inv.Invoke(mapScope{})
	require.Error(t, err)
}

func TestLiteralCompilerRejectsExpressions(t *testing.T) {
	c := NewLiteralCompiler()
	_, err := c.Compile("x + 1", intType)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
}

func TestFreeIdentifiers(t *testing.T) {
	idents, err := freeIdentifiers(`strings.ToUpper(name) + other`)
	require.NoError(t, err)
	require.Equal(t, []string{"name", "other", "strings"}, idents)
}
