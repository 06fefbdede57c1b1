package activation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/remoting/pkg/remoting"
)

const connectLogPrefix = "activation:connect"

// ConnectResolver short-circuits activation of well-known client types by
// connecting to the published object instead.
type ConnectResolver struct {
	rs *remoting.Services
}

// NewConnectResolver creates a resolver connecting through rs.
func NewConnectResolver(rs *remoting.Services) *ConnectResolver {
	return &ConnectResolver{rs: rs}
}

// TryConnect returns a proxy to the object named by the call's ConnectKey.
// ok is false when the call is not configured for connect, which is not an
// error. A call that also carries RemoteActivateKey is activated instead.
func (r *ConnectResolver) TryConnect(ctx context.Context, call *ConstructionCall) (*remoting.Proxy, bool, error) {
	url := call.Property(ConnectKey)
	if url == "" {
		return nil, false, nil
	}
	if call.Property(RemoteActivateKey) != "" {
		slog.Warn(fmt.Sprintf("%s - %s carries both connect and remote activation urls, activating remotely", connectLogPrefix, call.TypeRef()))
		return nil, false, nil
	}
	p, err := r.rs.Connect(ctx, call.Type, url)
	if err != nil {
		return nil, false, err
	}
	p.SetActivationInfo(remoting.ActivationInfo{Connected: true})
	slog.Debug(fmt.Sprintf("%s - %s connected to %s", connectLogPrefix, call.TypeRef(), url))
	return p, true, nil
}
