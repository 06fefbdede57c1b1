package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectPrefix = "remoting"
	SubjectLease  = "remoting.lease"
)

// SafeToken replaces characters that NATS treats as subject separators or wildcards.
func SafeToken(s string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(s)
}

// BuildHostSubject builds the request/reply subject a host listens on.
func BuildHostSubject(hostID string) string {
	return fmt.Sprintf("%s.host.%s", SubjectPrefix, SafeToken(hostID))
}

// BuildLeaseSubject builds a granular lease event subject for one object.
func BuildLeaseSubject(hostID, uri string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectLease, SafeToken(hostID), SafeToken(uri))
}
