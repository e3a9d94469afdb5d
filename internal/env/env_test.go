package env

import (
	"errors"
	"reflect"
	"testing"
)

var intType = reflect.TypeOf(0)

func TestResolveWalksParentChain(t *testing.T) {
	root := New(2)
	if _, err := root.Declare(1, "count", intType); err != nil {
		t.Fatalf("declare: %v", err)
	}
	child := root.CreateChild(1)
	grandchild := child.CreateChild(0)

	loc, err := grandchild.Resolve(1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loc.Name() != "count" {
		t.Fatalf("resolved wrong location: %s", loc.Name())
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	root := New(1)
	_, err := root.Resolve(99)
	var unknown *UnknownSymbolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownSymbolError, got %v", err)
	}
	if unknown.ID != 99 {
		t.Fatalf("expected id 99, got %d", unknown.ID)
	}
}

func TestDeclareRejectsDuplicateAndOverflow(t *testing.T) {
	root := New(1)
	if _, err := root.Declare(1, "a", intType); err != nil {
		t.Fatalf("declare: %v", err)
	}
	if _, err := root.Declare(1, "b", intType); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if _, err := root.Declare(2, "b", intType); err == nil {
		t.Fatalf("expected capacity error")
	}
}

func TestSetConvertsAssignableValues(t *testing.T) {
	root := New(1)
	loc, err := root.Declare(1, "count", intType)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if err := loc.Set(int32(7)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := loc.Get(); got != 7 {
		t.Fatalf("expected converted 7, got %v (%T)", got, got)
	}
	if err := loc.Set("nope"); err == nil {
		t.Fatalf("expected type mismatch error")
	}
}

func TestAliasForwardsReadsAndWrites(t *testing.T) {
	root := New(1)
	child := root.CreateChild(1)
	target, err := root.Declare(1, "total", intType)
	if err != nil {
		t.Fatalf("declare target: %v", err)
	}
	ref, err := child.Declare(2, "out", intType)
	if err != nil {
		t.Fatalf("declare ref: %v", err)
	}
	if err := ref.BindAlias(target); err != nil {
		t.Fatalf("bind alias: %v", err)
	}
	if err := ref.Set(42); err != nil {
		t.Fatalf("set through alias: %v", err)
	}
	if got := target.Get(); got != 42 {
		t.Fatalf("write did not forward: %v", got)
	}
	if err := target.Set(43); err != nil {
		t.Fatalf("set target: %v", err)
	}
	if got := ref.Get(); got != 43 {
		t.Fatalf("read did not forward: %v", got)
	}
}

func TestAliasCycleRejected(t *testing.T) {
	root := New(2)
	a, _ := root.Declare(1, "a", intType)
	b, _ := root.Declare(2, "b", intType)
	if err := a.BindAlias(b); err != nil {
		t.Fatalf("bind a->b: %v", err)
	}
	err := b.BindAlias(a)
	var cycle *AliasCycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected AliasCycleError, got %v", err)
	}
}

func TestLookupNameFindsNearestShadow(t *testing.T) {
	root := New(1)
	child := root.CreateChild(1)
	outer, _ := root.Declare(1, "x", intType)
	inner, _ := child.Declare(2, "x", intType)
	_ = outer.Set(1)
	_ = inner.Set(2)

	loc, ok := child.LookupName("x")
	if !ok || loc.ID() != 2 {
		t.Fatalf("expected inner x, got %+v ok=%v", loc, ok)
	}
	loc, ok = root.LookupName("x")
	if !ok || loc.ID() != 1 {
		t.Fatalf("expected outer x, got %+v ok=%v", loc, ok)
	}
}

func TestReparentSwitchesResolutionChain(t *testing.T) {
	old := New(1)
	target, _ := old.Declare(1, "v", intType)
	_ = target.Set(5)

	replacement := old.CreateChild(1)
	shadow, _ := replacement.Declare(2, "v", intType)
	_ = shadow.Set(9)

	leaf := old.CreateChild(0)
	if loc, _ := leaf.Resolve(1); loc.Get() != 5 {
		t.Fatalf("expected old chain value")
	}
	leaf.Reparent(replacement)
	loc, err := leaf.Resolve(1)
	if err != nil {
		t.Fatalf("resolve after reparent: %v", err)
	}
	if loc.Get() != 5 {
		t.Fatalf("pre-existing id must still resolve to the same cell, got %v", loc.Get())
	}
	if loc2, _ := leaf.Resolve(2); loc2.Get() != 9 {
		t.Fatalf("new symbol should resolve through replacement chain")
	}
}
