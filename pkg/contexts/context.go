// Package contexts models the logical isolation boundaries that context-bound objects live in.
package contexts

import (
	"context"
	"sync"
	"sync/atomic"
)

// Property is a named value that characterizes a Context.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Context is a logical isolation boundary within one host.
// Properties are fixed once the context is frozen.
type Context struct {
	id     uint64
	mu     sync.RWMutex
	props  []Property
	frozen bool
}

var (
	nextID uint64

	defaultOnce sync.Once
	defaultCtx  *Context
)

// New creates an unfrozen context holding the given properties.
func New(props ...Property) *Context {
	c := &Context{id: atomic.AddUint64(&nextID, 1)}
	c.props = append(c.props, props...)
	return c
}

// Default returns the host's default context.
func Default() *Context {
	defaultOnce.Do(func() {
		defaultCtx = New()
		defaultCtx.Freeze()
	})
	return defaultCtx
}

// ID returns the context's process-unique identifier.
func (c *Context) ID() uint64 { return c.id }

// Property returns the value of the named property.
func (c *Context) Property(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Properties returns a copy of the context's properties.
func (c *Context) Properties() []Property {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Property, len(c.props))
	copy(out, c.props)
	return out
}

// SetProperty adds or replaces a property. It returns false once the context is frozen.
func (c *Context) SetProperty(p Property) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return false
	}
	for i := range c.props {
		if c.props[i].Name == p.Name {
			c.props[i] = p
			return true
		}
	}
	c.props = append(c.props, p)
	return true
}

// Freeze makes the property set immutable.
func (c *Context) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (c *Context) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

type ctxKey struct{}

// With returns a copy of ctx whose current remoting context is c.
func With(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// Current returns the remoting context carried by ctx, or the default context.
func Current(ctx context.Context) *Context {
	if ctx != nil {
		if c, ok := ctx.Value(ctxKey{}).(*Context); ok && c != nil {
			return c
		}
	}
	return Default()
}
