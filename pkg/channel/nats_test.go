package channel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/remoting/pkg/errs"
)

const natsTestPrefix = "channel:nats_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T) *comms.Conn {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", natsTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", natsTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", natsTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestNATSTransport_CallRoundTrip(t *testing.T) {
	nc := startTestServer(t)
	tr := NewNATSTransport(nc, 5*time.Second)

	type seen struct {
		params ActivateParams
		cc     *CallContext
	}
	captured := make(chan seen, 1)
	l, err := tr.Listen("host-b", HandlerFunc(func(ctx context.Context, req *Request) *Response {
		if req.Method != MethodActivate {
			return ErrorResponse(req.ID, errs.New(errs.CodeMethodNotFound, "unexpected %s", req.Method))
		}
		var p ActivateParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return ErrorResponse(req.ID, err)
		}
		captured <- seen{params: p, cc: CallContextFrom(ctx)}
		return OkResponse(req.ID, &ActivateResult{Ref: &ObjRef{URI: "abc", HostID: "host-b", URL: "rem://host-b/abc"}})
	}))
	if err != nil {
		t.Fatalf("%s - Listen failed: %v", natsTestPrefix, err)
	}
	defer l.Close()

	sink, err := tr.CreateMessageSink("rem://host-b")
	if err != nil {
		t.Fatalf("%s - CreateMessageSink failed: %v", natsTestPrefix, err)
	}

	params := ActivateParams{TypeName: "demo.Counter@1.0.0", Levels: []string{"Context", "Construction"}, Properties: map[string]string{"k": "v"}}
	ctx := WithCallContext(context.Background(), &CallContext{RequestID: "req-1", Data: map[string]string{"tenant": "t1"}})
	var result ActivateResult
	if err := Call(ctx, sink, MethodActivate, "", &params, &result); err != nil {
		t.Fatalf("%s - Call failed: %v", natsTestPrefix, err)
	}

	got := <-captured
	if diff := cmp.Diff(params, got.params); diff != "" {
		t.Errorf("%s - params mismatch (-want +got):\n%s", natsTestPrefix, diff)
	}
	if got.cc == nil || got.cc.RequestID != "req-1" || got.cc.Data["tenant"] != "t1" {
		t.Errorf("%s - call context did not flow: %+v", natsTestPrefix, got.cc)
	}
	want := &ObjRef{URI: "abc", HostID: "host-b", URL: "rem://host-b/abc"}
	if diff := cmp.Diff(want, result.Ref); diff != "" {
		t.Errorf("%s - ref mismatch (-want +got):\n%s", natsTestPrefix, diff)
	}
}

func TestNATSTransport_RemoteErrorsKeepTheirKind(t *testing.T) {
	nc := startTestServer(t)
	tr := NewNATSTransport(nc, 5*time.Second)

	l, err := tr.Listen("host-c", HandlerFunc(func(_ context.Context, req *Request) *Response {
		if req.URI == "user" {
			return ErrorResponse(req.ID, &errs.UserCodeError{TypeName: "demo.Counter", Member: "ctor", Err: errors.New("negative seed")})
		}
		return ErrorResponse(req.ID, errs.New(errs.CodeActivationPermissionDenied, "type is not remotely activatable"))
	}))
	if err != nil {
		t.Fatalf("%s - Listen failed: %v", natsTestPrefix, err)
	}
	defer l.Close()

	sink, _ := tr.CreateMessageSink("rem://host-c")

	err = Call(context.Background(), sink, MethodActivate, "user", nil, nil)
	var u *errs.UserCodeError
	if !errors.As(err, &u) || u.Member != "ctor" || u.Err.Error() != "negative seed" {
		t.Errorf("%s - expected user code error, got %v", natsTestPrefix, err)
	}

	err = Call(context.Background(), sink, MethodActivate, "infra", nil, nil)
	if !errors.Is(err, errs.ErrActivationPermissionDenied) {
		t.Errorf("%s - expected permission denied, got %v", natsTestPrefix, err)
	}
	if errs.IsUserCode(err) {
		t.Errorf("%s - infrastructure failure must not look like user code", natsTestPrefix)
	}
}

func TestNATSTransport_NoListener(t *testing.T) {
	nc := startTestServer(t)
	tr := NewNATSTransport(nc, 500*time.Millisecond)

	sink, err := tr.CreateMessageSink("rem://nobody")
	if err != nil {
		t.Fatalf("%s - CreateMessageSink failed: %v", natsTestPrefix, err)
	}
	err = Call(context.Background(), sink, MethodHealth, "", nil, nil)
	if !errors.Is(err, errs.ErrActivationConnectFailed) {
		t.Errorf("%s - expected connect failure, got %v", natsTestPrefix, err)
	}
	var e *errs.Error
	if errors.As(err, &e) && e.Target != "rem://nobody" {
		t.Errorf("%s - failure should name the target url, got %q", natsTestPrefix, e.Target)
	}
}

func TestNATSTransport_RejectsForeignURL(t *testing.T) {
	tr := NewNATSTransport(nil, 0)
	if _, err := tr.CreateMessageSink("http://example.com"); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("%s - expected INVALID_ARGUMENT, got %v", natsTestPrefix, err)
	}
}

func TestNATSTransport_HandlerPanicBecomesInternalError(t *testing.T) {
	nc := startTestServer(t)
	tr := NewNATSTransport(nc, 5*time.Second)

	l, err := tr.Listen("host-p", HandlerFunc(func(context.Context, *Request) *Response {
		panic("boom")
	}))
	if err != nil {
		t.Fatalf("%s - Listen failed: %v", natsTestPrefix, err)
	}
	defer l.Close()

	sink, err := tr.CreateMessageSink("rem://host-p")
	if err != nil {
		t.Fatalf("%s - CreateMessageSink failed: %v", natsTestPrefix, err)
	}
	err = Call(context.Background(), sink, MethodHealth, "", nil, nil)
	if err == nil || errs.CodeOf(err) != errs.CodeInternal {
		t.Fatalf("%s - expected INTERNAL_ERROR, got %v", natsTestPrefix, err)
	}

	// The listener keeps serving after a panic.
	err = Call(context.Background(), sink, MethodHealth, "", nil, nil)
	if err == nil || errs.CodeOf(err) != errs.CodeInternal {
		t.Errorf("%s - second call: expected INTERNAL_ERROR, got %v", natsTestPrefix, err)
	}
}
