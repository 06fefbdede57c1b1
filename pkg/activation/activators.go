package activation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/remoting"
)

const activatorsLogPrefix = "activation:activators"

// ConstructionLevelActivator allocates the object and runs its constructor.
// It is always the last node and is shared, so it never takes a next node.
type ConstructionLevelActivator struct{}

var construction = &ConstructionLevelActivator{}

// Construction returns the shared construction-level activator.
func Construction() *ConstructionLevelActivator { return construction }

func (*ConstructionLevelActivator) Level() Level    { return LevelConstruction }
func (*ConstructionLevelActivator) Next() Activator { return nil }

// SetNext is a no-op: construction is always the last node.
func (*ConstructionLevelActivator) SetNext(Activator) {}

func (a *ConstructionLevelActivator) Activate(ctx context.Context, call *ConstructionCall) *ConstructionReturn {
	if err := detach(call, a); err != nil {
		return Fault(err)
	}
	obj, err := call.Type.Allocate()
	if err != nil {
		return Fault(err)
	}
	if err := call.Type.Invoke(ctx, obj, call.Args); err != nil {
		return Fault(err)
	}
	return &ConstructionReturn{Instance: obj}
}

// ContextLevelActivator moves the rest of the activation into a new context
// built from the call's context properties. The object comes back marshaled.
type ContextLevelActivator struct {
	rs   *remoting.Services
	next Activator
}

// NewContextLevelActivator returns a context-level node marshaling through rs.
func NewContextLevelActivator(rs *remoting.Services) *ContextLevelActivator {
	return &ContextLevelActivator{rs: rs}
}

func (a *ContextLevelActivator) Level() Level        { return LevelContext }
func (a *ContextLevelActivator) Next() Activator     { return a.next }
func (a *ContextLevelActivator) SetNext(n Activator) { a.next = n }

func (a *ContextLevelActivator) Activate(ctx context.Context, call *ConstructionCall) *ConstructionReturn {
	if err := detach(call, a); err != nil {
		return Fault(err)
	}
	target := contexts.New(call.ContextProperties...)
	target.Freeze()
	tctx := contexts.With(ctx, target)

	ret := ActivateChain(tctx, call)
	if ret.Faulted() || ret.Instance == nil {
		return ret
	}
	ref, err := a.rs.Marshal(tctx, ret.Instance, call.Type, "")
	if err != nil {
		return Fault(err)
	}
	slog.Debug(fmt.Sprintf("%s - built %s in context %d as %s", activatorsLogPrefix, call.TypeRef(), target.ID(), ref.URI))
	return &ConstructionReturn{Ref: ref}
}

// AppDomainLevelActivator hands the call to the host's LocalActivator, which
// decides whether the rest of the chain runs here or on the host at url.
type AppDomainLevelActivator struct {
	local *LocalActivator
	url   string
	next  Activator
}

// NewAppDomainLevelActivator returns a node handing off to local.
func NewAppDomainLevelActivator(local *LocalActivator, url string) *AppDomainLevelActivator {
	return &AppDomainLevelActivator{local: local, url: url}
}

func (a *AppDomainLevelActivator) Level() Level        { return LevelAppDomain }
func (a *AppDomainLevelActivator) Next() Activator     { return a.next }
func (a *AppDomainLevelActivator) SetNext(n Activator) { a.next = n }
func (a *AppDomainLevelActivator) URL() string         { return a.url }

func (a *AppDomainLevelActivator) Activate(ctx context.Context, call *ConstructionCall) *ConstructionReturn {
	if err := detach(call, a); err != nil {
		return Fault(err)
	}
	if a.url != "" && call.Property(RemoteActivateKey) == "" {
		call.SetProperty(RemoteActivateKey, a.url)
	}
	return a.local.Activate(ctx, call)
}

// remoteActivator sends the rest of the chain to another host.
type remoteActivator struct {
	rs   *remoting.Services
	url  string
	next Activator
}

func (a *remoteActivator) Level() Level        { return LevelRemote }
func (a *remoteActivator) Next() Activator     { return a.next }
func (a *remoteActivator) SetNext(n Activator) { a.next = n }

func (a *remoteActivator) Activate(ctx context.Context, call *ConstructionCall) *ConstructionReturn {
	if err := detach(call, a); err != nil {
		return Fault(err)
	}
	transport := a.rs.Transport()
	if transport == nil {
		return Fault(&errs.Error{Code: errs.CodeActivationConnectFailed, Message: "host has no transport", Target: a.url})
	}
	sink, err := transport.CreateMessageSink(a.url)
	if err != nil {
		return Fault(errs.Wrap(errs.CodeActivationConnectFailed, a.url, err, "cannot reach activation host"))
	}

	args, err := commsutil.EncodeArgs(call.Args)
	if err != nil {
		return Fault(errs.Wrap(errs.CodeInvalidArgument, call.TypeRef(), err, "cannot encode constructor arguments"))
	}
	params := &channel.ActivateParams{
		TypeName:          call.TypeRef(),
		Args:              args,
		ContextProperties: call.ContextProperties,
		Properties:        call.wireProperties(),
		ActivateInContext: call.ActivateInContext,
	}
	for _, l := range Levels(call.Activator) {
		params.Levels = append(params.Levels, l.String())
	}
	// The remaining chain runs on the other host.
	call.Activator = nil

	slog.Info(fmt.Sprintf("%s - activating %s on %s levels=%v", activatorsLogPrefix, params.TypeName, a.url, params.Levels))
	var result channel.ActivateResult
	if err := channel.Call(ctx, sink, channel.MethodActivate, "", params, &result); err != nil {
		return Fault(err)
	}
	if result.Ref == nil {
		return faultf(errs.CodeActivationFailed, "host %s returned neither an object nor a failure for %s", a.url, params.TypeName)
	}
	return &ConstructionReturn{Ref: result.Ref}
}
