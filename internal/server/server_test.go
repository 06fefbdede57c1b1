package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/remoting/internal/config"
	"github.com/morezero/remoting/pkg/activation"
	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/identity"
	"github.com/morezero/remoting/pkg/registry"
	"github.com/morezero/remoting/pkg/remoting"
	"github.com/morezero/remoting/pkg/types"
)

const serverTestPrefix = "server:server_test"

// mockRegistry implements registryForServer for handler tests.
type mockRegistry struct {
	health *registry.HealthOutput
	snap   *registry.Snapshot
}

func (m *mockRegistry) Health(context.Context) *registry.HealthOutput {
	if m.health != nil {
		return m.health
	}
	return &registry.HealthOutput{Status: "unhealthy", Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func (m *mockRegistry) Snapshot() *registry.Snapshot { return m.snap }

type ledger struct{ serial int64 }

func (l *ledger) Serial() int64 { return l.serial }

func ledgerType(built *atomic.Int64) *types.Type {
	t := types.For[ledger]()
	t.MarshalByRef = true
	t.Construct = func(_ context.Context, instance any, _ []any) error {
		instance.(*ledger).serial = built.Add(1)
		return nil
	}
	return t
}

// testServer returns a Server with a mock registry and in-process activation services.
func testServer(t *testing.T, reg registryForServer) *Server {
	t.Helper()
	cfg := &config.Config{
		COMMSURL:           "nats://127.0.0.1:4222",
		HealthCheckTimeout: 5 * time.Second,
	}
	rs := remoting.New(remoting.Config{Table: identity.NewTable("host-t")})
	return &Server{cfg: cfg, reg: reg, svc: activation.New(activation.Config{Remoting: rs})}
}

func healthy() *registry.HealthOutput {
	return &registry.HealthOutput{
		Status:    "healthy",
		Checks:    registry.HealthChecks{Database: "disabled", Registration: true},
		Counts:    registry.Counts{ActivatedServices: 2, WellKnownClients: 1},
		Source:    registry.SourceFile,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestHandleHome(t *testing.T) {
	s := testServer(t, &mockRegistry{health: healthy(), snap: &registry.Snapshot{Name: "billing-hosts"}})
	if err := s.svc.RegisterWellKnownServiceType("Ledger", ledgerType(new(atomic.Int64)), identity.Singleton); err != nil {
		t.Fatalf("%s - RegisterWellKnownServiceType: %v", serverTestPrefix, err)
	}

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("%s - home got status %d, want 200", serverTestPrefix, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("%s - Content-Type = %q, want text/html", serverTestPrefix, ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"host-t", "healthy", "billing-hosts", "Ledger", "Singleton"} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - home page should contain %q", serverTestPrefix, want)
		}
	}
}

func TestHandleHome_OnlyRoot(t *testing.T) {
	s := testServer(t, &mockRegistry{})
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - /other got status %d, want 404", serverTestPrefix, rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		health     *registry.HealthOutput
		wantStatus int
	}{
		{"healthy", healthy(), http.StatusOK},
		{"unhealthy", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(t, &mockRegistry{health: tt.health})
			rec := httptest.NewRecorder()
			s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("%s - /health got status %d, want %d", serverTestPrefix, rec.Code, tt.wantStatus)
			}
			var out registry.HealthOutput
			if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
				t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
			}
			if tt.health != nil {
				if diff := cmp.Diff(*tt.health, out); diff != "" {
					t.Errorf("%s - health mismatch (-want +got):\n%s", serverTestPrefix, diff)
				}
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	s := testServer(t, &mockRegistry{})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - /ready before start got status %d, want 503", serverTestPrefix, rec.Code)
	}

	if err := s.svc.Start(context.Background()); err != nil {
		t.Fatalf("%s - Start: %v", serverTestPrefix, err)
	}
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("%s - /ready after start got status %d, want 200", serverTestPrefix, rec.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode ready: %v", serverTestPrefix, err)
	}
	if out["status"] != "ready" {
		t.Errorf("%s - status = %q, want ready", serverTestPrefix, out["status"])
	}
}

func TestIdentitiesHandler(t *testing.T) {
	s := testServer(t, &mockRegistry{})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/identities", nil))
	var empty identitiesOutput
	if err := json.NewDecoder(rec.Body).Decode(&empty); err != nil {
		t.Fatalf("%s - decode identities: %v", serverTestPrefix, err)
	}
	if empty.HostID != "host-t" || empty.Count != 0 || empty.Identities == nil {
		t.Errorf("%s - empty table should list no identities as [], got %+v", serverTestPrefix, empty)
	}

	if err := s.svc.RegisterWellKnownServiceType("Ledger", ledgerType(new(atomic.Int64)), identity.SingleCall); err != nil {
		t.Fatalf("%s - RegisterWellKnownServiceType: %v", serverTestPrefix, err)
	}
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/identities", nil))
	var got identitiesOutput
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("%s - decode identities: %v", serverTestPrefix, err)
	}
	if got.Count != 1 || len(got.Identities) != 1 {
		t.Fatalf("%s - expected one identity, got %+v", serverTestPrefix, got)
	}
	if e := got.Identities[0]; e.URI != "Ledger" || e.Mode != "SingleCall" || e.TypeName != "server.ledger" {
		t.Errorf("%s - unexpected entry %+v", serverTestPrefix, e)
	}

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/identities", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("%s - POST /identities got status %d, want 405", serverTestPrefix, rec.Code)
	}
}

func TestConnectionHandler(t *testing.T) {
	s := testServer(t, &mockRegistry{})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connection", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("%s - connection GET got status %d, want 200", serverTestPrefix, rec.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode connection: %v", serverTestPrefix, err)
	}
	want := map[string]string{
		"commsUrl": "nats://127.0.0.1:4222",
		"hostId":   "host-t",
		"subject":  commsutil.BuildHostSubject("host-t"),
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("%s - connection mismatch (-want +got):\n%s", serverTestPrefix, diff)
	}

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/connection", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("%s - connection POST got status %d, want 405", serverTestPrefix, rec.Code)
	}
}

func startCommsServer(t *testing.T) *commsserver.Server {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create COMMS server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - COMMS server failed to start", serverTestPrefix)
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestServer_StartServesWellKnownOverComms(t *testing.T) {
	ns := startCommsServer(t)

	regFile := filepath.Join(t.TempDir(), "registration.json")
	registration := `{
  "name": "server-test",
  "version": "1.0.0",
  "wellKnownServices": [
    {"uri": "Ledger", "typeName": "server.ledger", "mode": "Singleton"},
    {"uri": "Ghost", "typeName": "server.ghost", "mode": "SingleCall"}
  ]
}`
	if err := os.WriteFile(regFile, []byte(registration), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Server{cfg: &config.Config{
		COMMSURL:           ns.ClientURL(),
		COMMSName:          "server-test",
		HostID:             "host-t",
		RequestTimeout:     5 * time.Second,
		RegistrationSource: config.SourceFile,
		RegistrationFile:   regFile,
		HealthCheckTimeout: 5 * time.Second,
	}}
	built := new(atomic.Int64)
	if err := s.start(context.Background(), []*types.Type{ledgerType(built)}); err != nil {
		t.Fatalf("%s - start failed: %v", serverTestPrefix, err)
	}
	t.Cleanup(func() {
		if err := s.shutdown(); err != nil {
			t.Errorf("%s - shutdown: %v", serverTestPrefix, err)
		}
	})

	if !s.svc.Started() {
		t.Errorf("%s - activation services should be started", serverTestPrefix)
	}
	if h := s.reg.Health(context.Background()); h.Status != "healthy" || h.Counts.WellKnownServices != 2 {
		t.Errorf("%s - unexpected health %+v", serverTestPrefix, h)
	}

	client, err := commsutil.Connect(ns.ClientURL(), "server-test-client", comms.MaxReconnects(0))
	if err != nil {
		t.Fatalf("%s - client connect: %v", serverTestPrefix, err)
	}
	t.Cleanup(client.Close)
	sink, err := channel.NewNATSTransport(client, 5*time.Second).CreateMessageSink("rem://host-t")
	if err != nil {
		t.Fatalf("%s - CreateMessageSink: %v", serverTestPrefix, err)
	}

	var health channel.HealthResult
	if err := channel.Call(context.Background(), sink, channel.MethodHealth, "", nil, &health); err != nil {
		t.Fatalf("%s - health call: %v", serverTestPrefix, err)
	}
	// Only Ledger is published; Ghost has no registered type.
	if diff := cmp.Diff(channel.HealthResult{Status: "healthy", HostID: "host-t", Identities: 1}, health); diff != "" {
		t.Errorf("%s - health mismatch (-want +got):\n%s", serverTestPrefix, diff)
	}

	for i := 0; i < 3; i++ {
		var res channel.InvokeResult
		if err := channel.Call(context.Background(), sink, channel.MethodInvoke, "Ledger", &channel.InvokeParams{Member: "Serial"}, &res); err != nil {
			t.Fatalf("%s - invoke Serial: %v", serverTestPrefix, err)
		}
		if len(res.Values) != 1 || string(res.Values[0]) != "1" {
			t.Errorf("%s - singleton Serial = %s, want 1", serverTestPrefix, res.Values)
		}
	}
	if built.Load() != 1 {
		t.Errorf("%s - singleton built %d times, want 1", serverTestPrefix, built.Load())
	}
}

func TestServer_StartFailsWithoutComms(t *testing.T) {
	s := &Server{cfg: &config.Config{
		COMMSURL:           "nats://127.0.0.1:1",
		COMMSName:          "server-test",
		RegistrationSource: config.SourceFile,
		HealthCheckTimeout: time.Second,
	}}
	if err := s.start(context.Background(), nil); err == nil {
		t.Fatalf("%s - start should fail when COMMS is unreachable", serverTestPrefix)
	}
	if err := s.shutdown(); err != nil {
		t.Errorf("%s - shutdown after failed start: %v", serverTestPrefix, err)
	}
}
