package types

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/morezero/remoting/pkg/errs"
)

type invoice struct {
	Number string
}

type ledger struct{}

type attrA struct{ tag string }
type attrB struct{ tag string }

func TestNameOf(t *testing.T) {
	tests := []struct {
		name string
		in   reflect.Type
		want string
	}{
		{"struct", reflect.TypeOf(invoice{}), "types.invoice"},
		{"pointer", reflect.TypeOf(&invoice{}), "types.invoice"},
		{"slice of pointers", reflect.TypeOf([]*invoice{}), "types.invoice"},
		{"builtin", reflect.TypeOf(0), ""},
		{"anonymous", reflect.TypeOf(struct{}{}), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NameOf(tt.in); got != tt.want {
				t.Errorf("types:catalog_test - NameOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCatalog_RegisterAndResolveVersions(t *testing.T) {
	c := NewCatalog()

	v1 := For[invoice]()
	v1.Version = "1.2.0"
	v2 := For[invoice]()
	v2.Version = "2.0.0"

	for _, typ := range []*Type{v1, v2} {
		if err := c.Register(typ); err != nil {
			t.Fatalf("types:catalog_test - Register(%s) failed: %v", typ.Ref(), err)
		}
	}

	got, err := c.Resolve("types.invoice")
	if err != nil {
		t.Fatalf("types:catalog_test - Resolve failed: %v", err)
	}
	if got != v2 {
		t.Errorf("types:catalog_test - expected latest version 2.0.0, got %s", got.Ref())
	}

	got, err = c.Resolve("types.invoice@^1.0.0")
	if err != nil {
		t.Fatalf("types:catalog_test - Resolve range failed: %v", err)
	}
	if got != v1 {
		t.Errorf("types:catalog_test - expected 1.2.0, got %s", got.Ref())
	}

	if _, err := c.Resolve("types.invoice@^3"); !errors.Is(err, errs.ErrTypeNotFound) {
		t.Errorf("types:catalog_test - expected TYPE_NOT_FOUND, got %v", err)
	}
	if _, err := c.Resolve("nopackage"); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("types:catalog_test - expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestCatalog_RegisterConflict(t *testing.T) {
	c := NewCatalog()
	a := For[ledger]()
	if err := c.Register(a); err != nil {
		t.Fatalf("types:catalog_test - Register failed: %v", err)
	}
	if err := c.Register(a); err != nil {
		t.Errorf("types:catalog_test - re-registering the same type should be idempotent: %v", err)
	}
	if err := c.Register(For[ledger]()); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("types:catalog_test - expected conflict, got %v", err)
	}
}

func TestCatalog_TypeOf(t *testing.T) {
	c := NewCatalog()
	typ := For[invoice]()
	if err := c.Register(typ); err != nil {
		t.Fatal(err)
	}
	got, ok := c.TypeOf(&invoice{})
	if !ok || got != typ {
		t.Errorf("types:catalog_test - TypeOf did not find registered type")
	}
	if _, ok := c.TypeOf(invoice{}); ok {
		t.Error("types:catalog_test - value (non-pointer) should not match *invoice")
	}
}

func TestType_CollectAttributes_MostDerivedWins(t *testing.T) {
	base := &Type{Name: "types.base", Attributes: []any{attrA{"base"}, attrB{"base"}}}
	derived := &Type{Name: "types.derived", Base: base, Attributes: []any{attrA{"derived"}}}

	got := derived.CollectAttributes()
	if len(got) != 2 {
		t.Fatalf("types:catalog_test - expected 2 attributes, got %d", len(got))
	}
	if a := got[0].(attrA); a.tag != "derived" {
		t.Errorf("types:catalog_test - attrA should come from derived type, got %q", a.tag)
	}
	if b := got[1].(attrB); b.tag != "base" {
		t.Errorf("types:catalog_test - attrB should come from base type, got %q", b.tag)
	}
}

func TestType_Flags(t *testing.T) {
	base := &Type{Name: "types.bound", ContextBound: true}
	derived := &Type{Name: "types.child", Base: base}
	if !derived.IsContextBound() || !derived.IsMarshalByRef() {
		t.Error("types:catalog_test - context-bound must be inherited and imply marshal-by-ref")
	}
	if !derived.CanCastTo("types.bound") || derived.CanCastTo("types.other") {
		t.Error("types:catalog_test - CanCastTo mismatch")
	}
}

func TestType_Invoke(t *testing.T) {
	typ := For[invoice]()
	typ.Construct = func(_ context.Context, instance any, args []any) error {
		if len(args) != 1 {
			return errors.New("want one argument")
		}
		instance.(*invoice).Number = args[0].(string)
		return nil
	}

	obj, err := typ.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := typ.Invoke(context.Background(), obj, []any{"INV-7"}); err != nil {
		t.Fatalf("types:catalog_test - Invoke failed: %v", err)
	}
	if obj.(*invoice).Number != "INV-7" {
		t.Errorf("types:catalog_test - constructor did not run")
	}

	err = typ.Invoke(context.Background(), obj, nil)
	if !errs.IsUserCode(err) {
		t.Errorf("types:catalog_test - constructor failure should be a user-code error, got %v", err)
	}

	plain := For[ledger]()
	if err := plain.Invoke(context.Background(), plain.New(), []any{1}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("types:catalog_test - expected INVALID_ARGUMENT for args without constructor, got %v", err)
	}
}

func TestType_Invoke_RecoversConstructorPanic(t *testing.T) {
	typ := For[invoice]()
	typ.Construct = func(context.Context, any, []any) error {
		panic("boom")
	}

	err := typ.Invoke(context.Background(), typ.New(), nil)
	var uc *errs.UserCodeError
	if !errors.As(err, &uc) {
		t.Fatalf("types:catalog_test - expected a user-code error, got %v", err)
	}
	if uc.Member != "ctor" || !strings.Contains(uc.Err.Error(), "boom") {
		t.Errorf("types:catalog_test - unexpected user-code error: %v", uc)
	}
}
