// Package registry holds the registration tables that decide which types may be
// activated remotely and where client types are activated or connected.
package registry

import (
	"time"

	"github.com/morezero/remoting/pkg/bootstrap"
)

// Registration sources.
const (
	SourceDB   = "db"
	SourceFile = "file"
)

// Snapshot is an immutable view of the registration tables. A new snapshot
// replaces the old one atomically; readers never see a partial load.
type Snapshot struct {
	Name     string
	Source   string
	LoadedAt time.Time

	// activated maps a qualified type name to the version ranges allowed for it.
	activated         map[string][]string
	wellKnownServices []bootstrap.WellKnownService
	activatedClients  map[string]string
	wellKnownClients  map[string]string
	remoteHosts       map[string]string
}

// Counts summarizes a snapshot for diagnostics.
type Counts struct {
	ActivatedServices int `json:"activatedServices"`
	WellKnownServices int `json:"wellKnownServices"`
	ActivatedClients  int `json:"activatedClients"`
	WellKnownClients  int `json:"wellKnownClients"`
	RemoteHosts       int `json:"remoteHosts"`
}

// HealthOutput holds the result of the health check.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Counts    Counts       `json:"counts"`
	Source    string       `json:"source"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
// Database is "ok", "error" or "disabled" when tables come from a file.
type HealthChecks struct {
	Database     string `json:"database"`
	Registration bool   `json:"registration"`
}
