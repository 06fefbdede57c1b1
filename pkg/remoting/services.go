// Package remoting marshals objects into references and turns references back into objects or proxies.
package remoting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/events"
	"github.com/morezero/remoting/pkg/identity"
	"github.com/morezero/remoting/pkg/types"
)

const logPrefix = "remoting:services"

// Config wires Services to its collaborators. Nil fields use defaults:
// the global identity table, an empty catalog, no transport (local only)
// and no lease notifications.
type Config struct {
	Table     *identity.Table
	Catalog   *types.Catalog
	Transport channel.Transport
	Leases    events.LeasePublisher
}

// Services owns the marshaling state of one host.
type Services struct {
	table     *identity.Table
	catalog   *types.Catalog
	transport channel.Transport
	leases    events.LeasePublisher

	handler atomic.Pointer[handlerBox]

	listening atomic.Bool
	listenMu  sync.Mutex
	listener  channel.Listener
}

type handlerBox struct{ h channel.Handler }

// New creates Services from cfg.
func New(cfg Config) *Services {
	s := &Services{table: cfg.Table, catalog: cfg.Catalog, transport: cfg.Transport, leases: cfg.Leases}
	if s.table == nil {
		s.table = identity.Global()
	}
	if s.catalog == nil {
		s.catalog = types.NewCatalog()
	}
	if s.leases == nil {
		s.leases = &events.NoOpPublisher{}
	}
	return s
}

func (s *Services) HostID() string               { return s.table.HostID() }
func (s *Services) Table() *identity.Table       { return s.table }
func (s *Services) Catalog() *types.Catalog      { return s.catalog }
func (s *Services) Transport() channel.Transport { return s.transport }

// URL returns the channel URL under which uri is reachable on this host.
func (s *Services) URL(uri string) string {
	return commsutil.BuildURL(s.HostID(), uri)
}

// SetHandler installs the handler that serves inbound requests once the
// listener is started.
func (s *Services) SetHandler(h channel.Handler) {
	s.handler.Store(&handlerBox{h: h})
}

// Listening reports whether the inbound endpoint has been started.
func (s *Services) Listening() bool { return s.listening.Load() }

// EnsureListening starts the inbound endpoint the first time it is needed.
// Without a transport the host is local-only and this is a no-op.
func (s *Services) EnsureListening() error {
	if s.listening.Load() || s.transport == nil {
		return nil
	}

	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.listening.Load() {
		return nil
	}

	box := s.handler.Load()
	if box == nil || box.h == nil {
		return errs.New(errs.CodeBadInternalState, "no inbound handler configured for host %s", s.HostID())
	}
	l, err := s.transport.Listen(s.HostID(), box.h)
	if err != nil {
		return fmt.Errorf("%s - failed to start listener: %w", logPrefix, err)
	}
	s.listener = l
	s.listening.Store(true)
	slog.Info(fmt.Sprintf("%s - Listening for remote requests as %s", logPrefix, s.HostID()))
	return nil
}

// Marshal makes obj addressable and returns its reference. An empty uri
// reuses the object's previous URI or generates a fresh one.
func (s *Services) Marshal(ctx context.Context, obj any, typ *types.Type, uri string) (*channel.ObjRef, error) {
	if obj == nil {
		return nil, errs.New(errs.CodeInvalidArgument, "cannot marshal a nil object")
	}
	if p, ok := obj.(*Proxy); ok {
		return p.objRef()
	}
	if typ == nil {
		typ, _ = s.catalog.TypeOf(obj)
	}

	if uri == "" {
		if prev, ok := s.table.URIOf(obj); ok {
			uri = prev
		} else {
			uri = uuid.NewString()
		}
	}

	id, err := s.table.FindOrCreate(uri, nil)
	if err != nil {
		return nil, err
	}
	if id.Kind() != identity.LocalServer {
		return nil, &errs.Error{Code: errs.CodeInvalidArgument, Message: "uri is bound to a remote object", Target: uri}
	}

	fresh := id.Server() == nil
	if fresh {
		if err := s.table.SetServer(id.URI(), identity.NewServerIdentity(obj, typ, contexts.Current(ctx))); err != nil {
			return nil, err
		}
	} else if cur, ok := id.Server().Object(); ok && !sameObject(cur, obj) {
		return nil, &errs.Error{Code: errs.CodeInvalidArgument, Message: "uri already serves another object", Target: uri}
	}

	ref := id.ObjRef()
	if ref == nil {
		ref = &channel.ObjRef{URI: id.URI(), TypeName: typeName(typ, obj), HostID: s.HostID(), URL: s.URL(id.URI())}
		id.SetObjRef(ref)
	}

	if err := s.EnsureListening(); err != nil {
		slog.Warn(fmt.Sprintf("%s - %s is marshaled but not reachable remotely: %v", logPrefix, ref.URI, err))
	}

	kind := events.LeaseRenewed
	if fresh {
		kind = events.LeaseStarted
	}
	s.notify(ctx, kind, ref)
	return ref, nil
}

// Unmarshal turns a reference into something callable. A reference to an
// object living in the caller's own context yields the object itself.
func (s *Services) Unmarshal(ctx context.Context, ref *channel.ObjRef) (any, error) {
	if ref == nil {
		return nil, errs.New(errs.CodeInvalidArgument, "cannot unmarshal a nil reference")
	}
	id, err := s.identityFor(ref)
	if err != nil {
		return nil, err
	}

	if id.Kind() == identity.LocalServer {
		server := id.Server()
		if server == nil {
			return nil, &errs.Error{Code: errs.CodeObjectDisconnected, Message: "no local object bound", Target: ref.URI}
		}
		if obj, ok := server.Object(); ok && server.Mode() == identity.Marshaled && server.Context() == contexts.Current(ctx) {
			return obj, nil
		}
		return s.proxyFor(id, server.Type()), nil
	}

	typ, _ := s.catalog.Resolve(ref.TypeName)
	return s.proxyFor(id, typ), nil
}

// Connect returns a proxy for the well-known object published at url.
func (s *Services) Connect(ctx context.Context, typ *types.Type, url string) (*Proxy, error) {
	hostID, uri, err := commsutil.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.CodeActivationConnectFailed, url, err, "cannot connect")
	}
	if uri == "" {
		return nil, &errs.Error{Code: errs.CodeActivationConnectFailed, Message: "url names no object", Target: url}
	}

	ref := &channel.ObjRef{URI: uri, HostID: hostID, URL: url}
	if typ != nil {
		ref.TypeName = typ.Ref()
	}
	id, err := s.identityFor(ref)
	if err != nil {
		return nil, errs.Wrap(errs.CodeActivationConnectFailed, url, err, "cannot connect")
	}
	if id.Kind() == identity.LocalServer && id.Server() == nil {
		return nil, &errs.Error{Code: errs.CodeActivationConnectFailed, Message: "no object published at url", Target: url}
	}
	slog.Debug(fmt.Sprintf("%s - connected to %s", logPrefix, url))
	return s.proxyFor(id, typ), nil
}

// Wrap marshals obj in the caller's context and returns a proxy bound to it.
func (s *Services) Wrap(ctx context.Context, obj any, typ *types.Type) (*Proxy, error) {
	if p, ok := obj.(*Proxy); ok {
		return p, nil
	}
	ref, err := s.Marshal(ctx, obj, typ, "")
	if err != nil {
		return nil, err
	}
	id, ok := s.table.Resolve(ref.URI)
	if !ok {
		return nil, &errs.Error{Code: errs.CodeObjectDisconnected, Target: ref.URI}
	}
	return s.proxyFor(id, typ), nil
}

// NewProxy returns an unbound proxy for typ; activation binds it later.
func (s *Services) NewProxy(typ *types.Type) *Proxy {
	return &Proxy{svc: s, typ: typ}
}

// Bind attaches p to the object ref designates.
func (s *Services) Bind(ctx context.Context, p *Proxy, ref *channel.ObjRef) error {
	if ref == nil {
		return errs.New(errs.CodeActivationFailed, "activation returned no object reference")
	}
	id, err := s.identityFor(ref)
	if err != nil {
		return err
	}
	p.attach(id)
	return nil
}

// Disconnect removes obj's binding. Later calls through stale proxies fail
// with OBJECT_DISCONNECTED. A proxy to a remote object also asks the owning
// host to drop it.
func (s *Services) Disconnect(ctx context.Context, obj any) error {
	var uri string
	if p, ok := obj.(*Proxy); ok {
		id := p.Identity()
		if id == nil {
			return errs.New(errs.CodeInvalidArgument, "proxy is not bound")
		}
		uri = id.URI()
		if id.Kind() == identity.RemoteReference {
			var errsOut error
			if sink, err := s.sinkFor(id); err != nil {
				errsOut = multierr.Append(errsOut, err)
			} else if err := channel.Call(ctx, sink, channel.MethodDisconnect, uri, nil, nil); err != nil {
				errsOut = multierr.Append(errsOut, err)
			}
			s.table.Remove(uri, false)
			return errsOut
		}
	} else {
		var ok bool
		if uri, ok = s.table.URIOf(obj); !ok {
			return errs.New(errs.CodeInvalidArgument, "object has not been marshaled")
		}
	}
	s.DisconnectURI(ctx, uri)
	return nil
}

// DisconnectURI removes the local binding for uri.
func (s *Services) DisconnectURI(ctx context.Context, uri string) bool {
	id, ok := s.table.Resolve(uri)
	if !ok {
		return false
	}
	ref := id.ObjRef()
	if !s.table.Remove(uri, true) {
		return false
	}
	if ref == nil {
		ref = &channel.ObjRef{URI: id.URI(), HostID: s.HostID()}
	}
	s.notify(ctx, events.LeaseDisconnected, ref)
	return true
}

// Close stops the inbound endpoint.
func (s *Services) Close() error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()

	var err error
	if s.listener != nil {
		err = multierr.Append(err, s.listener.Close())
		s.listener = nil
	}
	s.listening.Store(false)
	return err
}

func (s *Services) proxyFor(id *identity.Identity, typ *types.Type) *Proxy {
	p := &Proxy{svc: s, typ: typ}
	p.attach(id)
	return p
}

// identityFor returns the identity ref designates. A reference to this host
// must already be bound; a remote one is bound only once its channel sink
// exists, so a failure leaves the table as it was.
func (s *Services) identityFor(ref *channel.ObjRef) (*identity.Identity, error) {
	if err := identity.ValidateURI(ref.URI); err != nil {
		return nil, err
	}
	if id, ok := s.table.Resolve(ref.URI); ok {
		if id.Kind() == identity.RemoteReference {
			if _, err := s.sinkFor(id); err != nil {
				return nil, err
			}
		}
		return id, nil
	}
	if ref.HostID == "" || ref.HostID == s.HostID() {
		return nil, &errs.Error{Code: errs.CodeObjectDisconnected, Message: "no local object bound", Target: ref.URI}
	}

	sink, err := s.newSink(ref.URI, ref.URL)
	if err != nil {
		return nil, err
	}
	id, err := s.table.FindOrCreate(ref.URI, ref)
	if err != nil {
		return nil, err
	}
	if id.Kind() == identity.RemoteReference {
		id.SetChannelSink(sink)
	}
	return id, nil
}

// sinkFor returns the identity's sink, creating it from the reference URL.
func (s *Services) sinkFor(id *identity.Identity) (channel.MessageSink, error) {
	if sink := id.ChannelSink(); sink != nil {
		return sink, nil
	}
	var url string
	if ref := id.ObjRef(); ref != nil {
		url = ref.URL
	}
	sink, err := s.newSink(id.URI(), url)
	if err != nil {
		return nil, err
	}
	return id.SetChannelSink(sink), nil
}

func (s *Services) newSink(uri, url string) (channel.MessageSink, error) {
	if s.transport == nil {
		return nil, &errs.Error{Code: errs.CodeActivationConnectFailed, Message: "host has no transport", Target: uri}
	}
	if url == "" {
		return nil, &errs.Error{Code: errs.CodeActivationConnectFailed, Message: "reference carries no channel url", Target: uri}
	}
	sink, err := s.transport.CreateMessageSink(url)
	if err != nil {
		return nil, errs.Wrap(errs.CodeActivationConnectFailed, url, err, "cannot reach object")
	}
	return sink, nil
}

func (s *Services) notify(ctx context.Context, kind string, ref *channel.ObjRef) {
	event := &events.LeaseEvent{
		Kind:      kind,
		HostID:    s.HostID(),
		URI:       ref.URI,
		TypeName:  ref.TypeName,
		URL:       ref.URL,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.leases.PublishLease(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - lease notification for %s failed: %v", logPrefix, ref.URI, err))
	}
}

func typeName(typ *types.Type, obj any) string {
	if typ != nil {
		return typ.Ref()
	}
	return types.NameOf(reflectType(obj))
}
