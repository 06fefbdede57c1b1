package dispatcher

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/errs"
)

func TestDispatch_UnknownMethod(t *testing.T) {
	h := newTestHost(t, "host-b", nil, nil)

	for _, id := range []string{"req-1", "unique-abc-123", ""} {
		resp := h.disp.Handle(context.Background(), &channel.Request{ID: id, Method: "nonexistent"})
		if resp.Ok {
			t.Errorf("dispatcher:dispatcher_test - expected Ok=false for unknown method")
		}
		if resp.ID != id {
			t.Errorf("dispatcher:dispatcher_test - expected ID=%q, got %q", id, resp.ID)
		}
		if resp.Error == nil || resp.Error.Code != string(errs.CodeMethodNotFound) {
			t.Fatalf("dispatcher:dispatcher_test - expected METHOD_NOT_FOUND, got %+v", resp.Error)
		}
		if resp.Error.Retryable {
			t.Error("dispatcher:dispatcher_test - METHOD_NOT_FOUND should not be retryable")
		}
	}
}

func TestDispatch_MalformedRequests(t *testing.T) {
	h := newTestHost(t, "host-b", nil, nil)

	tests := []struct {
		name string
		req  *channel.Request
	}{
		{"activate without params", &channel.Request{ID: "1", Method: channel.MethodActivate}},
		{"activate with bad params", &channel.Request{ID: "2", Method: channel.MethodActivate, Params: json.RawMessage(`[1]`)}},
		{"invoke without uri", &channel.Request{ID: "3", Method: channel.MethodInvoke, Params: json.RawMessage(`{"member":"Owner"}`)}},
		{"invoke without params", &channel.Request{ID: "4", Method: channel.MethodInvoke, URI: "x"}},
		{"disconnect without uri", &channel.Request{ID: "5", Method: channel.MethodDisconnect}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.disp.Handle(context.Background(), tt.req)
			if resp.Ok || resp.Error == nil {
				t.Fatalf("dispatcher:dispatcher_test - expected a failure, got %+v", resp)
			}
			if resp.Error.Code != string(errs.CodeInvalidArgument) {
				t.Errorf("dispatcher:dispatcher_test - expected INVALID_ARGUMENT, got %s", resp.Error.Code)
			}
		})
	}
}

func TestDispatch_ActivateInvokeDisconnect(t *testing.T) {
	var built atomic.Int64
	h := newTestHost(t, "host-b", nil, allowAccounts(""), accountType(&built))
	ctx := context.Background()

	params, _ := json.Marshal(channel.ActivateParams{
		TypeName: "dispatcher.account",
		Args:     []json.RawMessage{json.RawMessage(`"ana"`)},
		Levels:   []string{"Construction"},
	})
	resp := h.disp.Handle(ctx, &channel.Request{ID: "a", Method: channel.MethodActivate, Params: params})
	if !resp.Ok {
		t.Fatalf("dispatcher:dispatcher_test - activate failed: %+v", resp.Error)
	}
	var activated channel.ActivateResult
	if err := json.Unmarshal(resp.Result, &activated); err != nil {
		t.Fatal(err)
	}
	uri := activated.Ref.URI

	invoke := func(member string, args ...json.RawMessage) *channel.Response {
		p, _ := json.Marshal(channel.InvokeParams{Member: member, Args: args})
		return h.disp.Handle(ctx, &channel.Request{ID: "i", Method: channel.MethodInvoke, URI: uri, Params: p})
	}

	if resp := invoke("Rename", json.RawMessage(`"bea"`)); !resp.Ok {
		t.Fatalf("dispatcher:dispatcher_test - Rename failed: %+v", resp.Error)
	}
	resp = invoke("Owner")
	var result channel.InvokeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]json.RawMessage{json.RawMessage(`"bea"`)}, result.Values); diff != "" {
		t.Errorf("dispatcher:dispatcher_test - Owner mismatch (-want +got):\n%s", diff)
	}

	if resp := invoke("Explode"); resp.Ok || resp.Error.Code != string(errs.CodeMethodNotFound) {
		t.Errorf("dispatcher:dispatcher_test - expected METHOD_NOT_FOUND for a missing member, got %+v", resp.Error)
	}

	resp = h.disp.Handle(ctx, &channel.Request{ID: "d", Method: channel.MethodDisconnect, URI: uri})
	if !resp.Ok {
		t.Fatalf("dispatcher:dispatcher_test - disconnect failed: %+v", resp.Error)
	}
	if resp := invoke("Owner"); resp.Ok || resp.Error.Code != string(errs.CodeObjectDisconnected) {
		t.Errorf("dispatcher:dispatcher_test - expected OBJECT_DISCONNECTED after disconnect, got %+v", resp)
	}

	// Disconnecting twice is not an error.
	if resp := h.disp.Handle(ctx, &channel.Request{ID: "d2", Method: channel.MethodDisconnect, URI: uri}); !resp.Ok {
		t.Errorf("dispatcher:dispatcher_test - repeated disconnect failed: %+v", resp.Error)
	}
}

func TestDispatch_ActivateDeniedIsNotRetryable(t *testing.T) {
	var built atomic.Int64
	h := newTestHost(t, "host-b", nil, nil, accountType(&built))

	params, _ := json.Marshal(channel.ActivateParams{TypeName: "dispatcher.account"})
	resp := h.disp.Handle(context.Background(), &channel.Request{ID: "a", Method: channel.MethodActivate, Params: params})
	if resp.Ok || resp.Error.Code != string(errs.CodeActivationPermissionDenied) {
		t.Fatalf("dispatcher:dispatcher_test - expected ACTIVATION_PERMISSION_DENIED, got %+v", resp)
	}
	if resp.Error.Retryable {
		t.Errorf("dispatcher:dispatcher_test - a denial must not be retryable")
	}
}

func TestDispatch_Health(t *testing.T) {
	h := newTestHost(t, "host-b", nil, nil)
	ctx := context.Background()

	check := func(want channel.HealthResult) {
		t.Helper()
		resp := h.disp.Handle(ctx, &channel.Request{ID: "h", Method: channel.MethodHealth})
		if !resp.Ok {
			t.Fatalf("dispatcher:dispatcher_test - health failed: %+v", resp.Error)
		}
		var got channel.HealthResult
		if err := json.Unmarshal(resp.Result, &got); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("dispatcher:dispatcher_test - health mismatch (-want +got):\n%s", diff)
		}
	}

	check(channel.HealthResult{Status: StatusStarting, HostID: "host-b"})
	if err := h.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	check(channel.HealthResult{Status: StatusHealthy, HostID: "host-b"})
}
