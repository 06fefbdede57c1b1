package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/errs"
)

const natsLogPrefix = "channel:nats"

// DefaultRequestTimeout bounds requests whose context carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// NATSTransport moves remoting requests over COMMS request/reply.
type NATSTransport struct {
	nc      *comms.Conn
	timeout time.Duration
}

// NewNATSTransport creates a transport over nc. A zero timeout uses DefaultRequestTimeout.
func NewNATSTransport(nc *comms.Conn, timeout time.Duration) *NATSTransport {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &NATSTransport{nc: nc, timeout: timeout}
}

// CreateMessageSink returns a sink addressing the host named in a rem:// url.
func (t *NATSTransport) CreateMessageSink(url string) (MessageSink, error) {
	hostID, _, err := commsutil.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, url, err, "not a remoting channel url")
	}
	return &natsSink{t: t, url: url, subject: commsutil.BuildHostSubject(hostID)}, nil
}

// Listen subscribes h to the host's subject. Each request is served on its
// own goroutine so a handler may call back into the same host.
func (t *NATSTransport) Listen(hostID string, h Handler) (Listener, error) {
	subject := commsutil.BuildHostSubject(hostID)
	sub, err := t.nc.Subscribe(subject, func(msg *comms.Msg) {
		go t.serve(msg, h)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", natsLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", natsLogPrefix, subject))
	return &natsListener{sub: sub}, nil
}

func (t *NATSTransport) serve(msg *comms.Msg, h Handler) {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", natsLogPrefix, err))
		t.respond(msg, ErrorResponse("", errs.Wrap(errs.CodeInvalidArgument, msg.Subject, err, "invalid request envelope")))
		return
	}

	timeout := t.timeout
	if req.Ctx != nil && req.Ctx.TimeoutMs > 0 {
		timeout = time.Duration(req.Ctx.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if req.Ctx != nil {
		ctx = WithCallContext(ctx, req.Ctx)
	}

	resp := handleRecovered(ctx, h, &req)
	if resp == nil {
		resp = ErrorResponse(req.ID, errs.New(errs.CodeBadInternalState, "handler returned no response"))
	}
	resp.ID = req.ID
	t.respond(msg, resp)
}

// handleRecovered keeps a panicking handler from taking the host down with it.
func handleRecovered(ctx context.Context, h Handler, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler panicked on %s: %v", natsLogPrefix, req.Method, r))
			resp = ErrorResponse(req.ID, errs.New(errs.CodeInternal, "handler panicked: %v", r))
		}
	}()
	return h.Handle(ctx, req)
}

func (t *NATSTransport) respond(msg *comms.Msg, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", natsLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to respond on %s: %v", natsLogPrefix, msg.Reply, err))
	}
}

type natsSink struct {
	t       *NATSTransport
	url     string
	subject string
}

func (s *natsSink) URL() string { return s.url }

func (s *natsSink) Send(ctx context.Context, req *Request) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.t.timeout)
		defer cancel()
	}
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode request: %w", natsLogPrefix, err)
	}

	slog.Debug(fmt.Sprintf("%s - method=%s uri=%s subject=%s", natsLogPrefix, req.Method, req.URI, s.subject))
	msg, err := s.t.nc.RequestWithContext(ctx, s.subject, data)
	if err != nil {
		return nil, fmt.Errorf("%s - request to %s failed: %w", natsLogPrefix, s.subject, err)
	}

	var resp Response
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("%s - failed to decode response: %w", natsLogPrefix, err)
	}
	return &resp, nil
}

type natsListener struct {
	sub *comms.Subscription
}

func (l *natsListener) Close() error {
	return l.sub.Unsubscribe()
}
