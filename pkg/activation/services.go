package activation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/morezero/remoting/pkg/bootstrap"
	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/identity"
	"github.com/morezero/remoting/pkg/remoting"
	"github.com/morezero/remoting/pkg/types"
)

const logPrefix = "activation:services"

// Config wires Services to its collaborators.
type Config struct {
	Remoting *remoting.Services
	// Registration defaults to empty tables: nothing is remote, nothing may be activated remotely.
	Registration Registration
	// Trust defaults to DefaultTrust.
	Trust TrustPolicy
}

// registrationLoader is implemented by registrations that load lazily.
type registrationLoader interface {
	Loaded() bool
	Load(ctx context.Context) error
}

// wellKnownSource is implemented by registrations that publish well-known services.
type wellKnownSource interface {
	WellKnownServices() []bootstrap.WellKnownService
}

// Services coordinates activation for one host.
type Services struct {
	rs        *remoting.Services
	reg       Registration
	eval      *Evaluator
	local     *LocalActivator
	connector *ConnectResolver
	global    ContextAttribute

	started atomic.Bool
	startMu sync.Mutex
}

// New creates Services from cfg.
func New(cfg Config) *Services {
	rs := cfg.Remoting
	if rs == nil {
		rs = remoting.New(remoting.Config{})
	}
	reg := cfg.Registration
	if reg == nil {
		reg = emptyRegistration{}
	}
	s := &Services{
		rs:        rs,
		reg:       reg,
		eval:      NewEvaluator(cfg.Trust),
		local:     NewLocalActivator(rs, reg),
		connector: NewConnectResolver(rs),
	}
	s.global = s.local
	return s
}

func (s *Services) Remoting() *remoting.Services      { return s.rs }
func (s *Services) Registration() Registration        { return s.reg }
func (s *Services) LocalActivator() *LocalActivator   { return s.local }
func (s *Services) ConnectResolver() *ConnectResolver { return s.connector }
func (s *Services) Started() bool                     { return s.started.Load() }

// Start loads the registration tables and publishes the registered well-known
// services. It runs once; concurrent callers wait for the first to finish.
// A failed start is retried by the next caller.
func (s *Services) Start(ctx context.Context) error {
	if s.started.Load() {
		return nil
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started.Load() {
		return nil
	}

	if l, ok := s.reg.(registrationLoader); ok && !l.Loaded() {
		if err := l.Load(ctx); err != nil {
			return fmt.Errorf("%s - failed to load registration: %w", logPrefix, err)
		}
	}
	if wk, ok := s.reg.(wellKnownSource); ok {
		for _, svc := range wk.WellKnownServices() {
			if err := s.publish(svc); err != nil {
				slog.Warn(fmt.Sprintf("%s - skipping well-known service %s: %v", logPrefix, svc.URI, err))
			}
		}
	}

	s.started.Store(true)
	slog.Info(fmt.Sprintf("%s - Activation started on host %s", logPrefix, s.rs.HostID()))
	return nil
}

func (s *Services) publish(svc bootstrap.WellKnownService) error {
	typ, err := s.rs.Catalog().Resolve(svc.TypeName)
	if err != nil {
		return err
	}
	mode, err := identity.ParseMode(svc.Mode)
	if err != nil {
		return err
	}
	return s.RegisterWellKnownServiceType(svc.URI, typ, mode)
}

// RegisterWellKnownServiceType publishes typ under uri. Singleton builds one
// object on first use; SingleCall builds a fresh object for every call.
func (s *Services) RegisterWellKnownServiceType(uri string, typ *types.Type, mode identity.Mode) error {
	if typ == nil {
		return errs.New(errs.CodeInvalidArgument, "nil type for well-known service %s", uri)
	}
	if err := s.rs.Catalog().Register(typ); err != nil {
		return err
	}
	server, err := identity.NewWellKnown(mode, typ, func(ctx context.Context) (any, error) {
		obj, err := typ.Allocate()
		if err != nil {
			return nil, err
		}
		if err := typ.Invoke(ctx, obj, nil); err != nil {
			return nil, err
		}
		return obj, nil
	})
	if err != nil {
		return err
	}

	table := s.rs.Table()
	id, err := table.FindOrCreate(uri, nil)
	if err != nil {
		return err
	}
	if err := table.SetServer(id.URI(), server); err != nil {
		return err
	}
	if id.ObjRef() == nil {
		id.SetObjRef(wellKnownRef(s.rs, id.URI(), typ))
	}
	if err := s.rs.EnsureListening(); err != nil {
		slog.Warn(fmt.Sprintf("%s - well-known %s is not reachable remotely: %v", logPrefix, id.URI(), err))
	}
	slog.Info(fmt.Sprintf("%s - Published %s as %s (%s)", logPrefix, typ.Ref(), id.URI(), mode))
	return nil
}

// Option customizes one NewInstance call.
type Option func(*options)

type options struct {
	args       []any
	attributes []any
}

// WithArgs passes constructor arguments.
func WithArgs(args ...any) Option {
	return func(o *options) { o.args = append(o.args, args...) }
}

// WithAttributes adds call-site activation attributes.
func WithAttributes(attrs ...any) Option {
	return func(o *options) { o.attributes = append(o.attributes, attrs...) }
}

// NewInstance activates typ. The result is either a constructed instance of
// typ or a *remoting.Proxy for one living in another context or host.
// Constructor failures come back as *errs.UserCodeError, infrastructure
// failures as *errs.Error.
func (s *Services) NewInstance(ctx context.Context, typ *types.Type, opts ...Option) (any, error) {
	if typ == nil {
		return nil, errs.New(errs.CodeInvalidArgument, "cannot activate a nil type")
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if typ.ProxyPolicy == nil {
		return s.allocate(ctx, typ, &o)
	}
	obj, err := typ.ProxyPolicy.CreateInstance(ctx, typ, func(ctx context.Context, t *types.Type) (any, error) {
		return s.allocate(ctx, t, &o)
	})
	if err != nil {
		return nil, err
	}
	if _, isProxy := obj.(*remoting.Proxy); !isProxy && !typ.IsInstance(obj) {
		return nil, &errs.Error{Code: errs.CodeActivationBadObject, Message: fmt.Sprintf("proxy policy returned %T", obj), Target: typ.Ref()}
	}
	return obj, nil
}

// NewCall builds the construction call for typ with the host's global
// attribute and typ's attributes.
func (s *Services) NewCall(typ *types.Type, args []any, callSite []any) *ConstructionCall {
	return &ConstructionCall{
		Type:               typ,
		Args:               args,
		GlobalAttribute:    s.global,
		CallSiteAttributes: callSite,
		TypeAttributes:     typ.CollectAttributes(),
		Activator:          Construction(),
	}
}

// allocate is the default instance creation: a bare instance when the
// caller's context suits the type, a proxy driven through the chain otherwise.
func (s *Services) allocate(ctx context.Context, typ *types.Type, o *options) (any, error) {
	call := s.NewCall(typ, o.args, o.attributes)

	ok, err := s.eval.IsContextOK(ctx, contexts.Current(ctx), call)
	if err != nil {
		return nil, err
	}
	if ok && !typ.IsContextBound() {
		obj, err := typ.Allocate()
		if err != nil {
			return nil, err
		}
		if err := typ.Invoke(ctx, obj, o.args); err != nil {
			return nil, err
		}
		return obj, nil
	}

	if ok {
		call.ActivateInContext = true
	} else {
		head, err := Splice(call.Activator, NewContextLevelActivator(s.rs))
		if err != nil {
			return nil, err
		}
		call.Activator = head
	}

	if p, connected, err := s.connector.TryConnect(ctx, call); err != nil {
		return nil, err
	} else if connected {
		return p, nil
	}

	return s.drive(ctx, s.rs.NewProxy(typ), call, !ok)
}

// drive runs the chain and binds proxy to what it built. A faulted result
// is returned to the caller unchanged.
func (s *Services) drive(ctx context.Context, proxy *remoting.Proxy, call *ConstructionCall, leaving bool) (any, error) {
	if leaving {
		if err := s.eval.ContributeProperties(ctx, call); err != nil {
			return nil, err
		}
	}

	ret := ActivateChain(ctx, call)
	if ret.Faulted() {
		return nil, ret.Err
	}

	ref := ret.Ref
	if ref == nil {
		if ret.Instance == nil {
			return nil, errs.New(errs.CodeActivationFailed, "activation of %s produced no object", call.TypeRef())
		}
		var err error
		if ref, err = s.rs.Marshal(ctx, ret.Instance, call.Type, ""); err != nil {
			return nil, err
		}
	}
	if err := s.rs.Bind(ctx, proxy, ref); err != nil {
		return nil, err
	}
	proxy.SetActivationInfo(remoting.ActivationInfo{InContext: call.ActivateInContext, Levels: call.Trace()})
	return proxy, nil
}

func wellKnownRef(rs *remoting.Services, uri string, typ *types.Type) *channel.ObjRef {
	return &channel.ObjRef{URI: uri, TypeName: typ.Ref(), HostID: rs.HostID(), URL: rs.URL(uri)}
}

// emptyRegistration denies every remote activation and registers no clients.
type emptyRegistration struct{}

func (emptyRegistration) IsActivationAllowed(string) bool          { return false }
func (emptyRegistration) WellKnownClientURL(string) (string, bool) { return "", false }
func (emptyRegistration) ActivatedClientURL(string) (string, bool) { return "", false }
