package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/morezero/remoting/pkg/errs"
)

const logPrefix = "channel:transport"

// MessageSink sends requests to one remote host.
type MessageSink interface {
	URL() string
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Handler serves requests arriving at a host.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response { return f(ctx, req) }

// Listener is an active inbound endpoint.
type Listener interface {
	Close() error
}

// Transport creates sinks to remote hosts and inbound endpoints for this one.
type Transport interface {
	// CreateMessageSink returns a sink for url, or an error when the url is
	// not one this transport can reach.
	CreateMessageSink(url string) (MessageSink, error)
	Listen(hostID string, h Handler) (Listener, error)
}

// Call sends a request through sink and decodes the result into out.
// Transport failures come back as ACTIVATION_CONNECT_FAILED; failures
// reported by the remote host are rebuilt from their wire form.
func Call(ctx context.Context, sink MessageSink, method, uri string, params, out any) error {
	req := &Request{ID: uuid.NewString(), Method: method, URI: uri}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return errs.Wrap(errs.CodeInvalidArgument, uri, err, "failed to encode %s params", method)
		}
		req.Params = data
	}
	if cc := CallContextFrom(ctx); cc != nil {
		req.Ctx = cc
	}

	resp, err := sink.Send(ctx, req)
	if err != nil {
		return errs.Wrap(errs.CodeActivationConnectFailed, sink.URL(), err, "%s request failed", method)
	}
	if resp == nil {
		return errs.New(errs.CodeActivationFailed, "%s returned no response from %s", method, sink.URL())
	}
	if !resp.Ok {
		if resp.Error == nil {
			return errs.New(errs.CodeActivationFailed, "%s failed without error detail from %s", method, sink.URL())
		}
		return resp.Error.Err()
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return errs.Wrap(errs.CodeActivationFailed, sink.URL(), err, "%s returned an undecodable result", method)
		}
	}
	return nil
}

// OkResponse builds a successful response carrying result.
func OkResponse(id string, result any) *Response {
	if result == nil {
		return &Response{ID: id, Ok: true}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ErrorResponse(id, fmt.Errorf("%s - failed to encode result: %w", logPrefix, err))
	}
	return &Response{ID: id, Ok: true, Result: data}
}

type callCtxKey struct{}

// WithCallContext attaches the logical call context sent with outgoing requests.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callCtxKey{}, cc)
}

// CallContextFrom returns the logical call context carried by ctx, if any.
func CallContextFrom(ctx context.Context) *CallContext {
	cc, _ := ctx.Value(callCtxKey{}).(*CallContext)
	return cc
}
