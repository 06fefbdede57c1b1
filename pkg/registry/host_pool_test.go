package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/remoting/pkg/bootstrap"
	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/errs"
)

const hostPoolTestPrefix = "registry:host_pool_test"

// startTestServer starts an in-process NATS server and returns its client URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", hostPoolTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", hostPoolTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func healthHandler(hostID string) channel.Handler {
	return channel.HandlerFunc(func(_ context.Context, req *channel.Request) *channel.Response {
		return channel.OkResponse(req.ID, channel.HealthResult{Status: "healthy", HostID: hostID})
	})
}

func TestHostPool_RoutesRemoteHostsOverTheirOwnServer(t *testing.T) {
	farURL := startTestServer(t)
	farConn, err := comms.Connect(farURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(farConn.Close)
	farListener, err := channel.NewNATSTransport(farConn, 5*time.Second).Listen("far-1", healthHandler("far-1"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = farListener.Close() })

	local := channel.NewMemoryTransport()
	reg := New(Params{})
	if err := reg.Replace(&bootstrap.RegistrationConfig{
		Name:        "pool",
		RemoteHosts: []bootstrap.RemoteHost{{HostID: "far-1", CommsURL: farURL}},
	}); err != nil {
		t.Fatal(err)
	}

	pool := NewHostPool(local, reg, "pool-test", 5*time.Second)
	t.Cleanup(pool.CloseAll)

	if _, err := pool.Listen("near-1", healthHandler("near-1")); err != nil {
		t.Fatalf("%s - Listen failed: %v", hostPoolTestPrefix, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, host := range []string{"far-1", "near-1", "far-1"} {
		sink, err := pool.CreateMessageSink("rem://" + host + "/obj")
		if err != nil {
			t.Fatalf("%s - CreateMessageSink(%s) failed: %v", hostPoolTestPrefix, host, err)
		}
		var out channel.HealthResult
		if err := channel.Call(ctx, sink, channel.MethodHealth, "", nil, &out); err != nil {
			t.Fatalf("%s - health call to %s failed: %v", hostPoolTestPrefix, host, err)
		}
		if out.HostID != host {
			t.Errorf("%s - answered by %q, want %q", hostPoolTestPrefix, out.HostID, host)
		}
	}

	if got := pool.Connected(); len(got) != 1 || got[0] != "far-1" {
		t.Errorf("%s - expected one pooled connection to far-1, got %v", hostPoolTestPrefix, got)
	}

	pool.CloseAll()
	if got := pool.Connected(); len(got) != 0 {
		t.Errorf("%s - CloseAll left %v", hostPoolTestPrefix, got)
	}
}

func TestHostPool_Errors(t *testing.T) {
	reg := New(Params{})
	if err := reg.Replace(&bootstrap.RegistrationConfig{
		Name:        "pool",
		RemoteHosts: []bootstrap.RemoteHost{{HostID: "gone", CommsURL: "nats://127.0.0.1:1"}},
	}); err != nil {
		t.Fatal(err)
	}
	pool := NewHostPool(channel.NewMemoryTransport(), reg, "pool-test", time.Second)
	t.Cleanup(pool.CloseAll)

	tests := []struct {
		name string
		url  string
		want error
	}{
		{"not a channel url", "http://gone/obj", errs.ErrInvalidArgument},
		{"unreachable remote server", "rem://gone/obj", errs.ErrActivationConnectFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := pool.CreateMessageSink(tt.url); !errors.Is(err, tt.want) {
				t.Errorf("%s - CreateMessageSink(%q) = %v, want %v", hostPoolTestPrefix, tt.url, err, tt.want)
			}
		})
	}
}
