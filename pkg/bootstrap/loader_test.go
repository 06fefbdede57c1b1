package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleRegistration = `{
  "name": "billing",
  "version": "2.1.0",
  "activatedServices": [{"typeName": "billing.Invoice", "versionRange": "^1.0.0"}],
  "wellKnownServices": [{"uri": "Ledger", "typeName": "billing.Ledger", "mode": "Singleton"}],
  "activatedClients": [{"typeName": "reports.Job", "url": "rem://reports-1"}],
  "wellKnownClients": [{"typeName": "audit.Log", "url": "rem://audit-1/Log"}],
  "remoteHosts": [{"hostId": "reports-1", "commsUrl": "nats://reports:4222"}]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("bootstrap:loader_test - write %s: %v", p, err)
	}
	return p
}

func TestGetDefaultRegistrationConfig(t *testing.T) {
	cfg := GetDefaultRegistrationConfig()
	if cfg.Version != "1.0.0" {
		t.Errorf("bootstrap:loader_test - expected version 1.0.0, got %s", cfg.Version)
	}
	if len(cfg.ActivatedServices) != 0 {
		t.Error("bootstrap:loader_test - default config must not allow any remote activation")
	}
}

func TestLoadRegistrationConfig_ExplicitPath(t *testing.T) {
	p := writeFile(t, "registration.json", sampleRegistration)

	cfg, err := LoadRegistrationConfig(p)
	if err != nil {
		t.Fatalf("bootstrap:loader_test - load failed: %v", err)
	}
	if cfg.Name != "billing" || len(cfg.ActivatedServices) != 1 || cfg.ActivatedServices[0].VersionRange != "^1.0.0" {
		t.Errorf("bootstrap:loader_test - unexpected config %+v", cfg)
	}
	if cfg.WellKnownServices[0].Mode != "Singleton" {
		t.Errorf("bootstrap:loader_test - mode = %q", cfg.WellKnownServices[0].Mode)
	}
	if cfg.RemoteHosts[0].CommsURL != "nats://reports:4222" {
		t.Errorf("bootstrap:loader_test - remote host = %+v", cfg.RemoteHosts[0])
	}
}

func TestLoadRegistrationConfig_EnvAndFallbacks(t *testing.T) {
	envPath := writeFile(t, "env.json", `{"name":"from-env","version":"1.0.0"}`)
	t.Setenv(EnvRegistrationFile, envPath)

	cfg, err := LoadRegistrationConfig("/nonexistent/registration.json")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "from-env" {
		t.Errorf("bootstrap:loader_test - expected env file to be used, got %q", cfg.Name)
	}

	broken := writeFile(t, "broken.json", `{not json`)
	t.Setenv(EnvRegistrationFile, "")
	cfg, err = LoadRegistrationConfig(broken)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "remoting-default" {
		t.Errorf("bootstrap:loader_test - unparsable file should fall back to default, got %q", cfg.Name)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RegistrationConfig
		wantErr bool
	}{
		{"empty", RegistrationConfig{}, false},
		{"bad mode", RegistrationConfig{WellKnownServices: []WellKnownService{{URI: "x", TypeName: "a.B", Mode: "Pooled"}}}, true},
		{"missing type", RegistrationConfig{ActivatedServices: []ActivatedService{{}}}, true},
		{"client without scheme", RegistrationConfig{WellKnownClients: []WellKnownClient{{TypeName: "a.B", URL: "tcp://x/y"}}}, true},
		{"host without url", RegistrationConfig{RemoteHosts: []RemoteHost{{HostID: "h"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("bootstrap:loader_test - Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMergeRegistrationConfigs(t *testing.T) {
	base := &RegistrationConfig{
		Name:              "base",
		ActivatedServices: []ActivatedService{{TypeName: "a.One"}, {TypeName: "a.Two", VersionRange: "1"}},
	}
	override := &RegistrationConfig{
		Name:              "override",
		ActivatedServices: []ActivatedService{{TypeName: "a.Two", VersionRange: "2"}, {TypeName: "a.Three"}},
	}

	merged := MergeRegistrationConfigs(base, override)
	if merged.Name != "override" {
		t.Errorf("bootstrap:loader_test - name = %q", merged.Name)
	}
	if len(merged.ActivatedServices) != 3 {
		t.Fatalf("bootstrap:loader_test - expected 3 services, got %d", len(merged.ActivatedServices))
	}
	if merged.ActivatedServices[1].VersionRange != "2" {
		t.Errorf("bootstrap:loader_test - override should replace a.Two, got %+v", merged.ActivatedServices[1])
	}
	if len(base.ActivatedServices) != 2 || base.ActivatedServices[1].VersionRange != "1" {
		t.Error("bootstrap:loader_test - merge must not modify base")
	}
}
