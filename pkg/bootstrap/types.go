// Package bootstrap loads the registration tables a remoting host starts with.
package bootstrap

// ActivatedService allows remote activation of a type. VersionRange limits
// which versions may be activated ("" allows every version).
type ActivatedService struct {
	TypeName     string `json:"typeName"`
	VersionRange string `json:"versionRange,omitempty"`
}

// WellKnownService publishes a type under a fixed URI on this host.
type WellKnownService struct {
	URI      string `json:"uri"`
	TypeName string `json:"typeName"`
	// Mode is "Singleton" or "SingleCall".
	Mode string `json:"mode"`
}

// ActivatedClient makes new instances of a type get activated on a remote host.
type ActivatedClient struct {
	TypeName string `json:"typeName"`
	// URL addresses the activating host, e.g. "rem://billing-1".
	URL string `json:"url"`
}

// WellKnownClient makes new instances of a type connect to a published object instead.
type WellKnownClient struct {
	TypeName string `json:"typeName"`
	// URL addresses the published object, e.g. "rem://billing-1/Ledger".
	URL string `json:"url"`
}

// RemoteHost maps a host ID to the COMMS server it listens on, for hosts
// outside the local COMMS cluster.
type RemoteHost struct {
	HostID   string `json:"hostId"`
	CommsURL string `json:"commsUrl"`
}

// RegistrationConfig is the root of a registration file.
type RegistrationConfig struct {
	Name              string             `json:"name"`
	Version           string             `json:"version"`
	Description       string             `json:"description,omitempty"`
	ActivatedServices []ActivatedService `json:"activatedServices,omitempty"`
	WellKnownServices []WellKnownService `json:"wellKnownServices,omitempty"`
	ActivatedClients  []ActivatedClient  `json:"activatedClients,omitempty"`
	WellKnownClients  []WellKnownClient  `json:"wellKnownClients,omitempty"`
	RemoteHosts       []RemoteHost       `json:"remoteHosts,omitempty"`
}
