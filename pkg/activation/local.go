package activation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/remoting"
)

const localLogPrefix = "activation:local"

// Registration is the read-only view of the registration tables activation consults.
type Registration interface {
	IsActivationAllowed(typeRef string) bool
	WellKnownClientURL(typeName string) (string, bool)
	ActivatedClientURL(typeName string) (string, bool)
}

// LocalActivator is the host's global activation attribute and the entry
// point of AppDomain-level hand-offs. As an attribute it vetoes the current
// context for client types registered elsewhere; as an activator it routes
// the call to a remote host or continues the chain locally.
type LocalActivator struct {
	rs        *remoting.Services
	reg       Registration
	connector *ConnectResolver
}

// NewLocalActivator creates the host's LocalActivator.
func NewLocalActivator(rs *remoting.Services, reg Registration) *LocalActivator {
	return &LocalActivator{rs: rs, reg: reg, connector: NewConnectResolver(rs)}
}

// IsContextOK records where a client type lives and vetoes so that the call
// leaves the caller's context. A well-known client entry takes precedence
// over an activated client entry; only one key is ever set.
func (l *LocalActivator) IsContextOK(_ *contexts.Context, call *ConstructionCall) bool {
	name := call.Type.QualifiedName()
	if url, ok := l.reg.WellKnownClientURL(name); ok {
		call.SetProperty(ConnectKey, url)
		return false
	}
	if url, ok := l.reg.ActivatedClientURL(name); ok {
		call.SetProperty(RemoteActivateKey, url)
		return false
	}
	return true
}

// GetPropertiesForNewContext adds the AppDomain-level hand-off for activated client types.
func (l *LocalActivator) GetPropertiesForNewContext(call *ConstructionCall) {
	url := call.Property(RemoteActivateKey)
	if url == "" {
		return
	}
	head, err := Splice(call.Activator, NewAppDomainLevelActivator(l, url))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - cannot hand %s off to %s: %v", localLogPrefix, call.TypeRef(), url, err))
		return
	}
	call.Activator = head
}

// Activate continues an activation that reached this host's AppDomain level,
// either handed off from a local chain or received from a remote host.
// Activated client types go on to their host; well-known client types are
// connected and come back as a proxy instance.
func (l *LocalActivator) Activate(ctx context.Context, call *ConstructionCall) *ConstructionReturn {
	if url := call.Property(RemoteActivateKey); url != "" {
		head, err := Splice(call.Activator, &remoteActivator{rs: l.rs, url: url})
		if err != nil {
			return Fault(err)
		}
		call.Activator = head
		return ActivateChain(ctx, call)
	}

	if call.Property(PermissionKey) != "" {
		ref := call.TypeRef()
		if !l.reg.IsActivationAllowed(ref) {
			slog.Warn(fmt.Sprintf("%s - activation of %s no longer permitted", localLogPrefix, ref))
			return Fault(&errs.Error{Code: errs.CodeActivationPermissionDenied, Message: "type is not remotely activatable", Target: ref})
		}
	}

	if call.Property(ConnectKey) != "" {
		proxy, ok, err := l.connector.TryConnect(ctx, call)
		if err != nil {
			return Fault(err)
		}
		if ok {
			return &ConstructionReturn{Instance: proxy}
		}
	}
	return ActivateChain(ctx, call)
}
