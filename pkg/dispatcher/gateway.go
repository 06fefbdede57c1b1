package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/remoting/pkg/activation"
	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/remoting"
	"github.com/morezero/remoting/pkg/types"
)

const gatewayLogPrefix = "dispatcher:gateway"

// Gateway is the server side of remote activation. It admits only types on
// the activated service allow-list and then runs the same activation path an
// in-process caller would.
type Gateway struct {
	svc *activation.Services
}

// NewGateway creates a gateway activating through svc.
func NewGateway(svc *activation.Services) *Gateway {
	return &Gateway{svc: svc}
}

// HandleInbound activates the type named in p on this host. A denied or
// failed activation comes back as a faulted return; nothing is built for a
// denied type. A successful return always carries a reference.
func (g *Gateway) HandleInbound(ctx context.Context, p *channel.ActivateParams) *activation.ConstructionReturn {
	if p == nil || p.TypeName == "" {
		return activation.Fault(errs.New(errs.CodeInvalidArgument, "activation request names no type"))
	}
	if err := g.svc.Start(ctx); err != nil {
		return activation.Fault(err)
	}

	reg := g.svc.Registration()
	if !reg.IsActivationAllowed(p.TypeName) {
		slog.Warn(fmt.Sprintf("%s - denied remote activation of %s", gatewayLogPrefix, p.TypeName))
		return activation.Fault(&errs.Error{Code: errs.CodeActivationPermissionDenied, Message: "type is not remotely activatable", Target: p.TypeName})
	}

	rs := g.svc.Remoting()
	typ, err := rs.Catalog().Resolve(p.TypeName)
	if err != nil {
		return activation.Fault(err)
	}
	call, err := g.buildCall(typ, p)
	if err != nil {
		return activation.Fault(err)
	}

	// The same client-table lookup an in-process activation makes; it decides
	// whether the object is connected to, built elsewhere or built here.
	local := g.svc.LocalActivator()
	local.IsContextOK(contexts.Current(ctx), call)
	call.SetProperty(activation.PermissionKey, "remote")

	slog.Debug(fmt.Sprintf("%s - activating %s levels=%v", gatewayLogPrefix, p.TypeName, p.Levels))
	ret := local.Activate(ctx, call)
	switch {
	case ret.Faulted():
		return ret
	case ret.Ref != nil && ret.Ref.HostID != "" && ret.Ref.HostID != rs.HostID():
		// Built on another host: publish it here so callers need not reach that host.
		proxy := rs.NewProxy(typ)
		if err := rs.Bind(ctx, proxy, ret.Ref); err != nil {
			return activation.Fault(err)
		}
		return g.redirect(ctx, proxy, typ)
	case ret.Ref != nil:
		return ret
	case ret.Instance == nil:
		return activation.Fault(errs.New(errs.CodeActivationFailed, "activation of %s produced no object", p.TypeName))
	}

	if proxy, ok := ret.Instance.(*remoting.Proxy); ok {
		return g.redirect(ctx, proxy, typ)
	}
	ref, err := rs.Marshal(ctx, ret.Instance, typ, "")
	if err != nil {
		return activation.Fault(err)
	}
	return &activation.ConstructionReturn{Ref: ref}
}

// buildCall rebuilds the construction call a remote host sent. Only the
// context transition and construction run here; levels closer to the caller
// already ran on the calling host.
func (g *Gateway) buildCall(typ *types.Type, p *channel.ActivateParams) (*activation.ConstructionCall, error) {
	args, err := typ.Decode(p.Args)
	if err != nil {
		return nil, err
	}
	call := &activation.ConstructionCall{
		Type:              typ,
		Args:              args,
		ContextProperties: p.ContextProperties,
		ActivateInContext: p.ActivateInContext,
	}
	for k, v := range p.Properties {
		switch k {
		case activation.RemoteActivateKey, activation.ConnectKey, activation.PermissionKey:
			// Routing and permission are decided by this host only.
			continue
		}
		call.SetProperty(k, v)
	}

	var head activation.Activator = activation.Construction()
	for _, name := range p.Levels {
		level, ok := activation.ParseLevel(name)
		if !ok {
			return nil, errs.New(errs.CodeInvalidArgument, "unknown activator level %q", name)
		}
		if level == activation.LevelContext {
			if head, err = activation.Splice(head, activation.NewContextLevelActivator(g.svc.Remoting())); err != nil {
				return nil, err
			}
		}
	}
	call.Activator = head
	return call, nil
}

// redirect makes an object living elsewhere addressable on this host.
func (g *Gateway) redirect(ctx context.Context, proxy *remoting.Proxy, typ *types.Type) *activation.ConstructionReturn {
	if proxy == nil {
		return activation.Fault(errs.New(errs.CodeActivationFailed, "no object to redirect to for %s", typ.Ref()))
	}
	ref, err := g.svc.Remoting().Marshal(ctx, remoting.NewRedirectionProxy(proxy), typ, "")
	if err != nil {
		return activation.Fault(err)
	}
	slog.Debug(fmt.Sprintf("%s - %s redirected to %s as %s", gatewayLogPrefix, typ.Ref(), proxy.URI(), ref.URI))
	return &activation.ConstructionReturn{Ref: ref}
}
