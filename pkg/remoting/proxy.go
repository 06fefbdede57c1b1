package remoting

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/identity"
	"github.com/morezero/remoting/pkg/types"
)

// ActivationInfo records how a proxy's object came to exist.
type ActivationInfo struct {
	// InContext is set when the object was built in the caller's context.
	InContext bool
	// Levels lists the activator levels that ran, in order.
	Levels []string
	// Connected is set when the proxy was produced by a direct connect.
	Connected bool
}

// Forwarder passes encoded calls on to another object.
type Forwarder interface {
	Forward(ctx context.Context, member string, args []json.RawMessage) ([]json.RawMessage, error)
}

// Proxy stands in for an object living in another context or on another host.
type Proxy struct {
	svc *Services
	typ *types.Type

	mu   sync.RWMutex
	id   *identity.Identity
	info ActivationInfo
}

func (p *Proxy) Type() *types.Type { return p.typ }

// Identity returns the identity the proxy is bound to, or nil before binding.
func (p *Proxy) Identity() *identity.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

// URI returns the bound object's URI.
func (p *Proxy) URI() string {
	if id := p.Identity(); id != nil {
		return id.URI()
	}
	return ""
}

// IsRemote reports whether calls leave this host.
func (p *Proxy) IsRemote() bool {
	id := p.Identity()
	return id != nil && id.Kind() == identity.RemoteReference
}

func (p *Proxy) ActivationInfo() ActivationInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := p.info
	info.Levels = append([]string(nil), p.info.Levels...)
	return info
}

func (p *Proxy) SetActivationInfo(info ActivationInfo) {
	p.mu.Lock()
	p.info = info
	p.mu.Unlock()
}

func (p *Proxy) attach(id *identity.Identity) {
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
}

func (p *Proxy) bound() (*identity.Identity, error) {
	id := p.Identity()
	if id == nil {
		return nil, errs.New(errs.CodeBadInternalState, "proxy for %s is not bound to an object", p.typ.QualifiedName())
	}
	if err := id.Check(); err != nil {
		return nil, err
	}
	return id, nil
}

func (p *Proxy) objRef() (*channel.ObjRef, error) {
	id, err := p.bound()
	if err != nil {
		return nil, err
	}
	if ref := id.ObjRef(); ref != nil {
		return ref, nil
	}
	return &channel.ObjRef{URI: id.URI(), HostID: p.svc.HostID(), URL: p.svc.URL(id.URI())}, nil
}

// Invoke calls member on the proxied object. Local objects are called inside
// their own context; remote ones over the identity's channel sink.
func (p *Proxy) Invoke(ctx context.Context, member string, args ...any) ([]any, error) {
	id, err := p.bound()
	if err != nil {
		return nil, err
	}

	if id.Kind() == identity.LocalServer {
		server := id.Server()
		if server == nil {
			return nil, &errs.Error{Code: errs.CodeObjectDisconnected, Message: "no local object bound", Target: id.URI()}
		}
		sctx := contexts.With(ctx, server.Context())
		obj, err := server.ServerObject(sctx)
		if err != nil {
			return nil, err
		}
		if fwd, ok := obj.(Forwarder); ok {
			return p.forwardEncoded(ctx, fwd, member, args)
		}
		m, err := server.Method(obj, member)
		if err != nil {
			return nil, err
		}
		return callMethod(sctx, obj, m, args, typeNameOf(server.Type(), obj))
	}

	raw, err := commsutil.EncodeArgs(args)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, id.URI(), err, "cannot encode arguments for %s", member)
	}
	values, err := p.send(ctx, id, member, raw)
	if err != nil {
		return nil, err
	}
	return decodeResults(p.typ, member, values)
}

// Forward passes an already encoded call through the proxy.
func (p *Proxy) Forward(ctx context.Context, member string, args []json.RawMessage) ([]json.RawMessage, error) {
	id, err := p.bound()
	if err != nil {
		return nil, err
	}
	if id.Kind() == identity.LocalServer {
		return p.svc.InvokeLocal(ctx, id.URI(), member, args)
	}
	return p.send(ctx, id, member, args)
}

func (p *Proxy) send(ctx context.Context, id *identity.Identity, member string, args []json.RawMessage) ([]json.RawMessage, error) {
	sink, err := p.svc.sinkFor(id)
	if err != nil {
		return nil, err
	}
	if chain := id.Envoy(); len(chain) > 0 {
		sink = &envoySink{MessageSink: sink, chain: chain}
	}
	var result channel.InvokeResult
	if err := channel.Call(ctx, sink, channel.MethodInvoke, id.URI(), &channel.InvokeParams{Member: member, Args: args}, &result); err != nil {
		return nil, err
	}
	return result.Values, nil
}

func (p *Proxy) forwardEncoded(ctx context.Context, fwd Forwarder, member string, args []any) ([]any, error) {
	raw, err := commsutil.EncodeArgs(args)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, p.URI(), err, "cannot encode arguments for %s", member)
	}
	values, err := fwd.Forward(ctx, member, raw)
	if err != nil {
		return nil, err
	}
	return decodeResults(p.typ, member, values)
}

// envoySink runs the identity's interceptors before each send.
type envoySink struct {
	channel.MessageSink
	chain []identity.Interceptor
}

func (s *envoySink) Send(ctx context.Context, req *channel.Request) (*channel.Response, error) {
	for _, intercept := range s.chain {
		if err := intercept(ctx, req); err != nil {
			return nil, err
		}
	}
	return s.MessageSink.Send(ctx, req)
}

// RedirectionProxy makes an object that actually lives elsewhere addressable
// on this host. Calls reaching it are forwarded to the target unchanged.
type RedirectionProxy struct {
	target *Proxy
}

// NewRedirectionProxy wraps target.
func NewRedirectionProxy(target *Proxy) *RedirectionProxy {
	return &RedirectionProxy{target: target}
}

func (r *RedirectionProxy) Target() *Proxy { return r.target }

// Forward passes the call to the target.
func (r *RedirectionProxy) Forward(ctx context.Context, member string, args []json.RawMessage) ([]json.RawMessage, error) {
	return r.target.Forward(ctx, member, args)
}

// Invoke calls member on the target.
func (r *RedirectionProxy) Invoke(ctx context.Context, member string, args ...any) ([]any, error) {
	return r.target.Invoke(ctx, member, args...)
}
