package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/remoting/pkg/activation"
	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/remoting"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes inbound channel requests to the gateway and the host's
// marshaled objects. It is the host's channel.Handler.
type Dispatcher struct {
	svc     *activation.Services
	rs      *remoting.Services
	gateway *Gateway
}

// NewDispatcher creates a dispatcher serving the objects of svc.
func NewDispatcher(svc *activation.Services) *Dispatcher {
	return &Dispatcher{svc: svc, rs: svc.Remoting(), gateway: NewGateway(svc)}
}

// Gateway returns the dispatcher's activation gateway.
func (d *Dispatcher) Gateway() *Gateway { return d.gateway }

// Handle routes a request to the appropriate method and returns a response.
func (d *Dispatcher) Handle(ctx context.Context, req *channel.Request) *channel.Response {
	requestID := ""
	if cc := channel.CallContextFrom(ctx); cc != nil {
		requestID = cc.RequestID
	}
	slog.Debug(fmt.Sprintf("%s - method=%s uri=%s id=%s requestId=%s", logPrefix, req.Method, req.URI, req.ID, requestID))

	switch req.Method {
	case channel.MethodActivate:
		return d.handleActivate(ctx, req)
	case channel.MethodInvoke:
		return d.handleInvoke(ctx, req)
	case channel.MethodDisconnect:
		return d.handleDisconnect(ctx, req)
	case channel.MethodHealth:
		return d.handleHealth(req)
	default:
		return channel.ErrorResponse(req.ID, errs.New(errs.CodeMethodNotFound, "unknown method: %s", req.Method))
	}
}

func (d *Dispatcher) handleActivate(ctx context.Context, req *channel.Request) *channel.Response {
	var params channel.ActivateParams
	if err := decodeParams(req, &params, false); err != nil {
		return channel.ErrorResponse(req.ID, err)
	}
	ret := d.gateway.HandleInbound(ctx, &params)
	if ret.Faulted() {
		return channel.ErrorResponse(req.ID, ret.Err)
	}
	return channel.OkResponse(req.ID, channel.ActivateResult{Ref: ret.Ref})
}

func (d *Dispatcher) handleInvoke(ctx context.Context, req *channel.Request) *channel.Response {
	if err := requireURI(req); err != nil {
		return channel.ErrorResponse(req.ID, err)
	}
	var params channel.InvokeParams
	if err := decodeParams(req, &params, false); err != nil {
		return channel.ErrorResponse(req.ID, err)
	}
	values, err := d.rs.InvokeLocal(ctx, req.URI, params.Member, params.Args)
	if err != nil {
		return channel.ErrorResponse(req.ID, err)
	}
	return channel.OkResponse(req.ID, channel.InvokeResult{Values: values})
}

func (d *Dispatcher) handleDisconnect(ctx context.Context, req *channel.Request) *channel.Response {
	if err := requireURI(req); err != nil {
		return channel.ErrorResponse(req.ID, err)
	}
	if !d.rs.DisconnectURI(ctx, req.URI) {
		slog.Debug(fmt.Sprintf("%s - disconnect of unknown uri %s", logPrefix, req.URI))
	}
	return channel.OkResponse(req.ID, nil)
}

func (d *Dispatcher) handleHealth(req *channel.Request) *channel.Response {
	status := StatusHealthy
	if !d.svc.Started() {
		status = StatusStarting
	}
	return channel.OkResponse(req.ID, channel.HealthResult{
		Status:     status,
		HostID:     d.rs.HostID(),
		Identities: d.rs.Table().Count(),
	})
}
