package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

const healthTestPrefix = "registry:health_test"

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		params     Params
		load       bool
		wantStatus string
		wantDB     string
	}{
		{"file source loaded", Params{Source: SourceFile}, true, "healthy", "disabled"},
		{"file source not loaded", Params{Source: SourceFile}, false, "unhealthy", "disabled"},
		{"db source without repository", Params{Source: SourceDB}, true, "unhealthy", "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.params)
			if tt.load {
				if err := r.Replace(testConfig()); err != nil {
					t.Fatal(err)
				}
			}
			out := r.Health(context.Background())
			if out.Status != tt.wantStatus {
				t.Errorf("%s - Status = %q, want %q", healthTestPrefix, out.Status, tt.wantStatus)
			}
			if out.Checks.Database != tt.wantDB {
				t.Errorf("%s - Database = %q, want %q", healthTestPrefix, out.Checks.Database, tt.wantDB)
			}
			if out.Checks.Registration != tt.load {
				t.Errorf("%s - Registration = %v, want %v", healthTestPrefix, out.Checks.Registration, tt.load)
			}
			if _, err := time.Parse(time.RFC3339, out.Timestamp); err != nil {
				t.Errorf("%s - Timestamp not RFC3339: %v", healthTestPrefix, err)
			}
		})
	}
}

func TestHealth_OutputShape(t *testing.T) {
	r := New(Params{})
	if err := r.Replace(testConfig()); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(r.Health(context.Background()))
	if err != nil {
		t.Fatalf("%s - marshal failed: %v", healthTestPrefix, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("%s - unmarshal failed: %v", healthTestPrefix, err)
	}
	for _, key := range []string{"status", "checks", "counts", "source", "timestamp"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("%s - missing key %q in %s", healthTestPrefix, key, data)
		}
	}
}
