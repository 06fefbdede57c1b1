package db

import "time"

// Registration kinds stored in the registrations table.
const (
	KindActivatedService = "activated_service"
	KindWellKnownService = "well_known_service"
	KindActivatedClient  = "activated_client"
	KindWellKnownClient  = "well_known_client"
)

// Registration represents a row in the registrations table.
type Registration struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	TypeName     string    `json:"type_name"`
	URI          string    `json:"uri"`
	Mode         *string   `json:"mode,omitempty"`
	URL          *string   `json:"url,omitempty"`
	VersionRange *string   `json:"version_range,omitempty"`
	Created      time.Time `json:"created"`
	Modified     time.Time `json:"modified"`
}

// UpsertRegistrationParams holds parameters for UpsertRegistration.
type UpsertRegistrationParams struct {
	Kind         string
	TypeName     string
	URI          string
	Mode         *string
	URL          *string
	VersionRange *string
}

// RemoteHost represents a row in the remote_hosts table.
type RemoteHost struct {
	HostID   string    `json:"host_id"`
	CommsURL string    `json:"comms_url"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}
