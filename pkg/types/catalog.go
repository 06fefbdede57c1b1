package types

import (
	"reflect"
	"sync"

	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/semver"
)

// Catalog resolves qualified, optionally versioned, type names to Types.
// Lookups are lock-free; registrations are serialized.
type Catalog struct {
	mu       sync.Mutex
	byName   sync.Map // map[string][]*Type
	byGoType sync.Map // map[reflect.Type]*Type
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Register adds t. Registering the same *Type twice is a no-op; registering a
// different Type under an existing name and version fails.
func (c *Catalog) Register(t *Type) error {
	if t == nil {
		return errs.New(errs.CodeInvalidArgument, "nil type")
	}
	name := t.QualifiedName()
	if name == "" || !semver.ValidateTypeName(name) {
		return errs.New(errs.CodeInvalidArgument, "type has no valid qualified name: %q", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var existing []*Type
	if v, ok := c.byName.Load(name); ok {
		existing = v.([]*Type)
	}
	for _, e := range existing {
		if e.Version != t.Version {
			continue
		}
		if e == t {
			return nil
		}
		return errs.New(errs.CodeInvalidArgument, "conflicting registration for %s", t.Ref())
	}

	// Copy on write so readers never observe a partially appended slice.
	next := make([]*Type, len(existing), len(existing)+1)
	copy(next, existing)
	next = append(next, t)
	c.byName.Store(name, next)
	if t.GoType != nil {
		c.byGoType.Store(t.GoType, t)
	}
	return nil
}

// Resolve finds the best registered type for a reference such as
// "orders.Invoice", "orders.Invoice@1" or "orders.Invoice@^1.2.0".
func (c *Catalog) Resolve(ref string) (*Type, error) {
	parsed, err := semver.ParseTypeRef(ref)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, ref, err, "malformed type reference")
	}
	v, ok := c.byName.Load(parsed.Full)
	if !ok {
		return nil, &errs.Error{Code: errs.CodeTypeNotFound, Message: "type is not registered", Target: ref}
	}
	candidates := v.([]*Type)

	records := make([]semver.VersionRecord, len(candidates))
	for i, t := range candidates {
		records[i] = semver.VersionRecord{ID: t.Ref(), Version: t.Version}
	}
	best := semver.ResolveVersion(records, parsed.Range)
	if best == nil {
		return nil, &errs.Error{Code: errs.CodeTypeNotFound, Message: "no registered version satisfies range", Target: ref}
	}
	for _, t := range candidates {
		if t.Ref() == best.ID {
			return t, nil
		}
	}
	return nil, &errs.Error{Code: errs.CodeTypeNotFound, Target: ref}
}

// TypeOf returns the registered type of obj's dynamic Go type.
func (c *Catalog) TypeOf(obj any) (*Type, bool) {
	if obj == nil {
		return nil, false
	}
	v, ok := c.byGoType.Load(reflect.TypeOf(obj))
	if !ok {
		return nil, false
	}
	return v.(*Type), true
}

// Types returns every registered type (order unspecified).
func (c *Catalog) Types() []*Type {
	var out []*Type
	c.byName.Range(func(_, v any) bool {
		out = append(out, v.([]*Type)...)
		return true
	})
	return out
}
