// Package identity binds object URIs to exactly one local or remote representative.
package identity

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/errs"
)

// Kind tells whether an identity is served here or forwards to another host.
type Kind int

const (
	LocalServer Kind = iota + 1
	RemoteReference
)

func (k Kind) String() string {
	switch k {
	case LocalServer:
		return "LocalServer"
	case RemoteReference:
		return "RemoteReference"
	default:
		return "Unknown"
	}
}

// Interceptor runs on every request leaving through an identity's sink.
type Interceptor func(ctx context.Context, req *channel.Request) error

// Identity is the binding of one URI to one object.
type Identity struct {
	uri  string
	kind Kind

	mu     sync.RWMutex
	objRef *channel.ObjRef
	sink   channel.MessageSink
	envoy  []Interceptor
	server *ServerIdentity

	disconnected atomic.Bool
}

func (id *Identity) URI() string { return id.uri }
func (id *Identity) Kind() Kind  { return id.kind }

// ObjRef returns the serialized reference, if one has been produced or received.
func (id *Identity) ObjRef() *channel.ObjRef {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.objRef
}

func (id *Identity) SetObjRef(ref *channel.ObjRef) {
	id.mu.Lock()
	id.objRef = ref
	id.mu.Unlock()
}

// ChannelSink returns the sink used to reach a remote object.
func (id *Identity) ChannelSink() channel.MessageSink {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.sink
}

// SetChannelSink installs sink unless one is already present, and returns the
// sink in effect.
func (id *Identity) SetChannelSink(sink channel.MessageSink) channel.MessageSink {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.sink == nil {
		id.sink = sink
	}
	return id.sink
}

// Envoy returns the interceptors applied to outgoing requests.
func (id *Identity) Envoy() []Interceptor {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.envoy
}

func (id *Identity) SetEnvoy(chain ...Interceptor) {
	id.mu.Lock()
	id.envoy = chain
	id.mu.Unlock()
}

// Server returns the server-side record of a LocalServer identity.
func (id *Identity) Server() *ServerIdentity {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.server
}

// Disconnected reports whether the identity has been removed from its table.
func (id *Identity) Disconnected() bool { return id.disconnected.Load() }

// Check fails with OBJECT_DISCONNECTED once the identity has been removed.
func (id *Identity) Check() error {
	if id.disconnected.Load() {
		return &errs.Error{Code: errs.CodeObjectDisconnected, Message: "object has been disconnected", Target: id.uri}
	}
	return nil
}
