// Package events defines lease notifications emitted when objects are marshaled or disconnected.
package events

// Lease event kinds.
const (
	LeaseStarted      = "started"
	LeaseRenewed      = "renewed"
	LeaseDisconnected = "disconnected"
)

// LeaseEvent is emitted whenever an object is marshaled (start or renew its
// lease) or disconnected.
type LeaseEvent struct {
	Kind      string `json:"kind"`
	HostID    string `json:"hostId"`
	URI       string `json:"uri"`
	TypeName  string `json:"typeName,omitempty"`
	URL       string `json:"url,omitempty"`
	Timestamp string `json:"timestamp"`
}
