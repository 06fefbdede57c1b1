package commsutil

import (
	"fmt"
	"strings"
)

// URLScheme is the scheme of remoting channel URLs: rem://<hostID>/<uri>.
const URLScheme = "rem"

// BuildURL builds the channel URL of an object published by hostID.
func BuildURL(hostID, uri string) string {
	return fmt.Sprintf("%s://%s/%s", URLScheme, hostID, strings.TrimPrefix(uri, "/"))
}

// ParseURL splits a channel URL into host ID and object URI. The URI part
// may be empty when the URL only addresses a host (activation endpoints).
func ParseURL(url string) (hostID, uri string, err error) {
	rest, ok := strings.CutPrefix(url, URLScheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%s - unsupported channel url %q", urlLogPrefix, url)
	}
	hostID, uri, _ = strings.Cut(rest, "/")
	if hostID == "" {
		return "", "", fmt.Errorf("%s - channel url %q has no host", urlLogPrefix, url)
	}
	return hostID, uri, nil
}

const urlLogPrefix = "commsutil:url"
