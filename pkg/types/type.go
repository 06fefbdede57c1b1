// Package types describes remotely activatable types and resolves them by versioned name.
package types

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/semver"
)

// AllocateFunc performs the default allocation for a type: either a bare
// instance or a proxy awaiting construction.
type AllocateFunc func(ctx context.Context, t *Type) (any, error)

// ProxyPolicy customizes how instances of a type are created.
type ProxyPolicy interface {
	CreateInstance(ctx context.Context, t *Type, allocate AllocateFunc) (any, error)
}

// Type describes an activatable type.
type Type struct {
	// Name is the qualified name ("orders.Invoice"). Derived from GoType when empty.
	Name    string
	Version string

	// MarshalByRef types are addressed by reference across boundaries.
	MarshalByRef bool
	// ContextBound types always live behind a proxy in their own context.
	ContextBound bool

	// Base is the next type up the inheritance chain, if any.
	Base *Type
	// Attributes are the type-level activation attributes.
	Attributes  []any
	ProxyPolicy ProxyPolicy

	// GoType is the dynamic type of values returned by New.
	GoType reflect.Type
	// New allocates an uninitialized instance.
	New func() any
	// Construct runs the type's constructor on an allocated instance.
	Construct func(ctx context.Context, instance any, args []any) error
	// DecodeArgs converts constructor arguments received over the wire.
	DecodeArgs func(raw []json.RawMessage) ([]any, error)
}

// For returns a Type whose instances are *T.
func For[T any]() *Type {
	return &Type{
		GoType: reflect.TypeOf((*T)(nil)),
		New:    func() any { return new(T) },
	}
}

// QualifiedName returns Name, deriving it from GoType when unset.
func (t *Type) QualifiedName() string {
	if t == nil {
		return ""
	}
	if t.Name != "" {
		return t.Name
	}
	return NameOf(t.GoType)
}

// Ref returns the versioned reference ("orders.Invoice@1.2.0").
func (t *Type) Ref() string {
	return semver.BuildTypeRef(t.QualifiedName(), t.Version)
}

// IsContextBound reports whether t or any base type is context-bound.
func (t *Type) IsContextBound() bool {
	for b := t; b != nil; b = b.Base {
		if b.ContextBound {
			return true
		}
	}
	return false
}

// IsMarshalByRef reports whether instances of t are passed by reference.
func (t *Type) IsMarshalByRef() bool {
	for b := t; b != nil; b = b.Base {
		if b.MarshalByRef || b.ContextBound {
			return true
		}
	}
	return false
}

// IsInstance reports whether obj is a value of t.
func (t *Type) IsInstance(obj any) bool {
	if obj == nil || t.GoType == nil {
		return false
	}
	return reflect.TypeOf(obj).AssignableTo(t.GoType)
}

// CanCastTo reports whether t or one of its bases is named name.
func (t *Type) CanCastTo(name string) bool {
	for b := t; b != nil; b = b.Base {
		if b.QualifiedName() == name {
			return true
		}
	}
	return false
}

// CollectAttributes returns the type-level attributes of t and its bases,
// keeping only the most-derived attribute of each concrete attribute type.
func (t *Type) CollectAttributes() []any {
	var out []any
	seen := make(map[reflect.Type]bool)
	for b := t; b != nil; b = b.Base {
		for _, a := range b.Attributes {
			if a == nil {
				out = append(out, a)
				continue
			}
			at := reflect.TypeOf(a)
			if seen[at] {
				continue
			}
			seen[at] = true
			out = append(out, a)
		}
	}
	return out
}

// Allocate returns an uninitialized instance.
func (t *Type) Allocate() (any, error) {
	if t.New == nil {
		return nil, errs.New(errs.CodeInvalidArgument, "type %s has no allocator", t.QualifiedName())
	}
	return t.New(), nil
}

// Invoke runs the constructor on instance. Failures of the constructor itself,
// panics included, are reported as *errs.UserCodeError.
func (t *Type) Invoke(ctx context.Context, instance any, args []any) (err error) {
	if t.Construct == nil {
		if len(args) > 0 {
			return errs.New(errs.CodeInvalidArgument, "type %s has no constructor taking %d arguments", t.QualifiedName(), len(args))
		}
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &errs.UserCodeError{TypeName: t.QualifiedName(), Member: "ctor", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := t.Construct(ctx, instance, args); err != nil {
		return &errs.UserCodeError{TypeName: t.QualifiedName(), Member: "ctor", Err: err}
	}
	return nil
}

// Decode converts wire arguments into constructor arguments.
func (t *Type) Decode(raw []json.RawMessage) ([]any, error) {
	if t.DecodeArgs != nil {
		return t.DecodeArgs(raw)
	}
	args := make([]any, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &args[i]); err != nil {
			return nil, errs.Wrap(errs.CodeInvalidArgument, t.QualifiedName(), err, "argument %d", i)
		}
	}
	return args, nil
}
