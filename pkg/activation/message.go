// Package activation turns "construct this type" requests into local
// instances or proxies, crossing context and host boundaries on the way.
package activation

import (
	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/types"
)

// Construction call properties.
const (
	// RemoteActivateKey holds the URL of the host an activated client type is built on.
	RemoteActivateKey = "Remote"
	// ConnectKey holds the URL of the published object a well-known client type connects to.
	ConnectKey = "Connect"
	// PermissionKey marks an inbound remote activation that passed the allow-list.
	PermissionKey = "Permission"
)

// hostLocalKeys never travel to another host.
var hostLocalKeys = []string{RemoteActivateKey, ConnectKey, PermissionKey}

// ConstructionCall carries one activation through the activator chain.
type ConstructionCall struct {
	Type *types.Type
	Args []any

	// GlobalAttribute is consulted before every other attribute.
	GlobalAttribute    any
	CallSiteAttributes []any
	TypeAttributes     []any

	// ContextProperties are the properties of the context the object will live in.
	ContextProperties []contexts.Property
	// Activator is the head of the remaining chain.
	Activator Activator
	// ActivateInContext builds the object in the caller's context.
	ActivateInContext bool

	properties map[string]string
	trace      []Level
	// vetoedAt is one past the index in Attributes of the attribute that
	// vetoed the current context, or zero.
	vetoedAt int
}

// TypeRef returns the versioned name of the type being activated.
func (c *ConstructionCall) TypeRef() string {
	return c.Type.Ref()
}

// Property returns a call property.
func (c *ConstructionCall) Property(key string) string {
	return c.properties[key]
}

// SetProperty sets a call property. An empty value removes it.
func (c *ConstructionCall) SetProperty(key, value string) {
	if value == "" {
		delete(c.properties, key)
		return
	}
	if c.properties == nil {
		c.properties = make(map[string]string)
	}
	c.properties[key] = value
}

// Attributes returns every attribute in precedence order: global, call-site, type.
func (c *ConstructionCall) Attributes() []any {
	out := make([]any, 0, 1+len(c.CallSiteAttributes)+len(c.TypeAttributes))
	if c.GlobalAttribute != nil {
		out = append(out, c.GlobalAttribute)
	}
	out = append(out, c.CallSiteAttributes...)
	return append(out, c.TypeAttributes...)
}

// AddContextProperty adds p unless a property with the same name is present.
func (c *ConstructionCall) AddContextProperty(p contexts.Property) {
	for _, cur := range c.ContextProperties {
		if cur.Name == p.Name {
			return
		}
	}
	c.ContextProperties = append(c.ContextProperties, p)
}

// Trace returns the levels of the activators that have run, in order.
func (c *ConstructionCall) Trace() []string {
	out := make([]string, len(c.trace))
	for i, l := range c.trace {
		out[i] = l.String()
	}
	return out
}

// wireProperties returns the properties that may be sent to another host.
func (c *ConstructionCall) wireProperties() map[string]string {
	var out map[string]string
	for k, v := range c.properties {
		if isHostLocal(k) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

func isHostLocal(key string) bool {
	for _, k := range hostLocalKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ConstructionReturn is the terminal result of an activation. Exactly one of
// Instance, Ref and Err is set.
type ConstructionReturn struct {
	// Instance is an object built in the caller's context.
	Instance any
	// Ref addresses an object built in another context or on another host.
	Ref *channel.ObjRef
	// Err is either a *errs.UserCodeError or an infrastructure *errs.Error.
	Err error
}

// Faulted reports whether the activation failed.
func (r *ConstructionReturn) Faulted() bool { return r.Err != nil }

// Fault returns a faulted result carrying err.
func Fault(err error) *ConstructionReturn {
	return &ConstructionReturn{Err: err}
}

func faultf(code errs.Code, format string, args ...any) *ConstructionReturn {
	return Fault(errs.New(code, format, args...))
}
