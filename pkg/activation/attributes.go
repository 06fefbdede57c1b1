package activation

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
)

// ContextAttribute decides whether an object may live in a context and, when
// it may not, shapes the context it will get.
type ContextAttribute interface {
	// IsContextOK must not have side effects visible outside call.
	IsContextOK(cur *contexts.Context, call *ConstructionCall) bool
	// GetPropertiesForNewContext runs only once the call leaves the current
	// context. It may add context properties or splice activators.
	GetPropertiesForNewContext(call *ConstructionCall)
}

// TrustPolicy decides whether an attribute may take part in activation.
type TrustPolicy interface {
	Trusted(attr any) bool
}

// TrustFunc adapts a function to TrustPolicy.
type TrustFunc func(attr any) bool

func (f TrustFunc) Trusted(attr any) bool { return f(attr) }

// ModulePath is the package path prefix trusted by DefaultTrust.
const ModulePath = "github.com/morezero/remoting"

// PackageTrust trusts attributes whose type is declared in a package under one of Prefixes.
type PackageTrust struct {
	Prefixes []string
}

// DefaultTrust trusts this module's packages plus extra package prefixes.
func DefaultTrust(extra ...string) *PackageTrust {
	return &PackageTrust{Prefixes: append([]string{ModulePath}, extra...)}
}

func (p *PackageTrust) Trusted(attr any) bool {
	pkg := packageOf(attr)
	if pkg == "" {
		return false
	}
	for _, prefix := range p.Prefixes {
		prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
		if prefix == "" {
			continue
		}
		if pkg == prefix || strings.HasPrefix(pkg, prefix+"/") {
			return true
		}
	}
	return false
}

func packageOf(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.PkgPath()
}

// Evaluator consults a call's attributes in precedence order.
type Evaluator struct {
	trust TrustPolicy
}

// NewEvaluator creates an evaluator. A nil policy uses DefaultTrust.
func NewEvaluator(trust TrustPolicy) *Evaluator {
	if trust == nil {
		trust = DefaultTrust()
	}
	return &Evaluator{trust: trust}
}

// IsContextOK asks the global, call-site and type attributes in that order
// and stops at the first veto. Attributes after a veto are never consulted,
// and the call records which attribute vetoed.
func (e *Evaluator) IsContextOK(_ context.Context, cur *contexts.Context, call *ConstructionCall) (bool, error) {
	call.vetoedAt = 0
	for i, a := range call.Attributes() {
		attr, err := e.check(a)
		if err != nil {
			return false, err
		}
		if !attr.IsContextOK(cur, call) {
			call.vetoedAt = i + 1
			return false, nil
		}
	}
	return true, nil
}

// ContributeProperties lets the attributes shape the new context, in the same
// order. After a veto only the attributes up to and including the vetoing one
// contribute. Call it only once the call is known to leave the current context.
func (e *Evaluator) ContributeProperties(_ context.Context, call *ConstructionCall) error {
	attrs := call.Attributes()
	if call.vetoedAt > 0 && call.vetoedAt <= len(attrs) {
		attrs = attrs[:call.vetoedAt]
	}
	for _, a := range attrs {
		attr, err := e.check(a)
		if err != nil {
			return err
		}
		attr.GetPropertiesForNewContext(call)
	}
	return nil
}

func (e *Evaluator) check(a any) (ContextAttribute, error) {
	attr, ok := a.(ContextAttribute)
	if !ok {
		return nil, &errs.Error{Code: errs.CodeBadAttribute, Message: "not a context attribute", Target: fmt.Sprintf("%T", a)}
	}
	if !e.trust.Trusted(a) {
		return nil, &errs.Error{Code: errs.CodeSecurityViolation, Message: "attribute is not trusted", Target: fmt.Sprintf("%T", a)}
	}
	return attr, nil
}

// PropertyAttribute requires the object's context to carry a named property.
type PropertyAttribute struct {
	Name  string
	Value string
}

func (p *PropertyAttribute) IsContextOK(cur *contexts.Context, _ *ConstructionCall) bool {
	v, ok := cur.Property(p.Name)
	return ok && v == p.Value
}

func (p *PropertyAttribute) GetPropertiesForNewContext(call *ConstructionCall) {
	call.AddContextProperty(contexts.Property{Name: p.Name, Value: p.Value})
}
