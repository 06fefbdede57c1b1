package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/morezero/remoting/pkg/activation"
	"github.com/morezero/remoting/pkg/bootstrap"
	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/identity"
	"github.com/morezero/remoting/pkg/registry"
	"github.com/morezero/remoting/pkg/remoting"
	"github.com/morezero/remoting/pkg/types"
)

type account struct {
	owner string
}

func (a *account) Owner() string { return a.owner }

func (a *account) Rename(owner string) { a.owner = owner }

func (a *account) Zone(ctx context.Context) string {
	v, _ := contexts.Current(ctx).Property("zone")
	return v
}

// accountType builds accounts; the first argument, when given, is the owner.
func accountType(built *atomic.Int64) *types.Type {
	t := types.For[account]()
	t.Version = "1.4.0"
	t.MarshalByRef = true
	t.Construct = func(_ context.Context, instance any, args []any) error {
		built.Add(1)
		if len(args) == 0 {
			return nil
		}
		owner, _ := args[0].(string)
		if owner == "" {
			return errors.New("owner is required")
		}
		if owner == "panic" {
			panic("boom")
		}
		instance.(*account).owner = owner
		return nil
	}
	return t
}

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

// testHost is one remoting host: its activation services and dispatcher.
type testHost struct {
	svc  *activation.Services
	disp *Dispatcher
	reg  *registry.Registry
}

func (h *testHost) rs() *remoting.Services { return h.svc.Remoting() }

// newTestHost creates a host named hostID on transport with the given
// registration. Every type in typs is registered in its catalog.
func newTestHost(t *testing.T, hostID string, transport channel.Transport, cfg *bootstrap.RegistrationConfig, typs ...*types.Type) *testHost {
	t.Helper()
	if cfg == nil {
		cfg = bootstrap.GetDefaultRegistrationConfig()
	}
	reg := registry.New(registry.Params{})
	if err := reg.Replace(cfg); err != nil {
		t.Fatalf("dispatcher:helpers_test - Replace failed: %v", err)
	}

	rs := remoting.New(remoting.Config{Table: identity.NewTable(hostID), Transport: transport})
	for _, typ := range typs {
		if err := rs.Catalog().Register(typ); err != nil {
			t.Fatalf("dispatcher:helpers_test - Register(%s) failed: %v", typ.Ref(), err)
		}
	}
	svc := activation.New(activation.Config{Remoting: rs, Registration: reg})
	disp := NewDispatcher(svc)
	rs.SetHandler(disp)
	t.Cleanup(func() { _ = rs.Close() })
	return &testHost{svc: svc, disp: disp, reg: reg}
}

func allowAccounts(versionRange string) *bootstrap.RegistrationConfig {
	return &bootstrap.RegistrationConfig{
		Name:              "accounts",
		ActivatedServices: []bootstrap.ActivatedService{{TypeName: "dispatcher.account", VersionRange: versionRange}},
	}
}
