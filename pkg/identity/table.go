package identity

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/errs"
)

const logPrefix = "identity:table"

// Table maps URIs to identities. At most one identity exists per URI.
// Reads take a lock-free fast path; every mutation holds mu.
type Table struct {
	hostID string

	mu      sync.Mutex
	entries sync.Map // map[string]*Identity
	objects sync.Map // map[any]string, local object -> URI
	count   atomic.Int64
}

// NewTable creates an empty table for the host hostID.
func NewTable(hostID string) *Table {
	return &Table{hostID: hostID}
}

var (
	globalOnce sync.Once
	global     *Table
)

// Global returns the process-wide table, creating it on first use.
func Global() *Table {
	globalOnce.Do(func() {
		global = NewTable(DefaultHostID())
	})
	return global
}

// DefaultHostID derives a host ID from the machine name and process ID.
func DefaultHostID() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "localhost"
	}
	return fmt.Sprintf("%s-%d", name, os.Getpid())
}

// HostID returns the ID of the host owning this table.
func (t *Table) HostID() string { return t.hostID }

// ValidateURI rejects empty URIs and URIs carrying whitespace, control
// characters or subject wildcards.
func ValidateURI(uri string) error {
	if strings.TrimSpace(uri) == "" {
		return errs.New(errs.CodeInvalidArgument, "uri must not be empty")
	}
	for _, r := range uri {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '*' || r == '>' {
			return &errs.Error{Code: errs.CodeInvalidArgument, Message: "malformed uri", Target: uri}
		}
	}
	return nil
}

func normalize(uri string) string {
	return strings.TrimPrefix(uri, "/")
}

// FindOrCreate returns the identity bound to uri, creating it when absent.
// A nil hint, or one naming this host, yields a LocalServer identity;
// otherwise a RemoteReference. Concurrent callers all observe the same identity.
func (t *Table) FindOrCreate(uri string, hint *channel.ObjRef) (*Identity, error) {
	if err := ValidateURI(uri); err != nil {
		return nil, err
	}
	uri = normalize(uri)

	if v, ok := t.entries.Load(uri); ok {
		return v.(*Identity), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.entries.Load(uri); ok {
		return v.(*Identity), nil
	}

	id := &Identity{uri: uri, kind: LocalServer, objRef: hint}
	if hint != nil && hint.HostID != "" && hint.HostID != t.hostID {
		id.kind = RemoteReference
	}
	t.entries.Store(uri, id)
	t.count.Add(1)
	slog.Debug(fmt.Sprintf("%s - created %s identity uri=%s", logPrefix, id.kind, uri))
	return id, nil
}

// Resolve returns the identity bound to uri without creating one.
func (t *Table) Resolve(uri string) (*Identity, bool) {
	v, ok := t.entries.Load(normalize(uri))
	if !ok {
		return nil, false
	}
	return v.(*Identity), true
}

// SetServer attaches the server-side record to the LocalServer identity at uri.
func (t *Table) SetServer(uri string, s *ServerIdentity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries.Load(normalize(uri))
	if !ok {
		return &errs.Error{Code: errs.CodeObjectDisconnected, Message: "no identity bound", Target: uri}
	}
	id := v.(*Identity)
	if id.kind != LocalServer {
		return &errs.Error{Code: errs.CodeInvalidArgument, Message: "cannot attach a server to a remote reference", Target: uri}
	}

	id.mu.Lock()
	if id.server != nil && id.server != s {
		id.mu.Unlock()
		return &errs.Error{Code: errs.CodeInvalidArgument, Message: "identity already has a server object", Target: uri}
	}
	id.server = s
	id.mu.Unlock()

	if obj, ok := s.Object(); ok && s.Mode() == Marshaled && trackable(obj) {
		t.objects.Store(obj, id.uri)
	}
	return nil
}

// URIOf returns the URI an object was last marshaled under.
func (t *Table) URIOf(obj any) (string, bool) {
	if !trackable(obj) {
		return "", false
	}
	v, ok := t.objects.Load(obj)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Remove deletes the binding for uri and marks its identity disconnected.
// With resetURI the object forgets its URI, so marshaling it again binds a
// fresh one; otherwise a later marshal recreates an identity under the old URI.
func (t *Table) Remove(uri string, resetURI bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries.LoadAndDelete(normalize(uri))
	if !ok {
		return false
	}
	t.count.Add(-1)
	id := v.(*Identity)
	id.disconnected.Store(true)

	if resetURI {
		if s := id.Server(); s != nil {
			if obj, ok := s.Object(); ok && trackable(obj) {
				t.objects.Delete(obj)
			}
		}
	}
	slog.Debug(fmt.Sprintf("%s - removed identity uri=%s reset=%v", logPrefix, id.uri, resetURI))
	return true
}

// Count returns the number of bound identities.
func (t *Table) Count() int { return int(t.count.Load()) }

// Entry describes one binding for diagnostics.
type Entry struct {
	URI      string `json:"uri"`
	Kind     string `json:"kind"`
	TypeName string `json:"typeName,omitempty"`
	Mode     string `json:"mode,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Entries returns a snapshot of every binding, sorted by URI.
func (t *Table) Entries() []Entry {
	var out []Entry
	t.entries.Range(func(_, v any) bool {
		id := v.(*Identity)
		e := Entry{URI: id.uri, Kind: id.kind.String()}
		if ref := id.ObjRef(); ref != nil {
			e.TypeName = ref.TypeName
			e.URL = ref.URL
		}
		if s := id.Server(); s != nil {
			e.Mode = s.Mode().String()
			if e.TypeName == "" && s.Type() != nil {
				e.TypeName = s.Type().QualifiedName()
			}
		}
		out = append(out, e)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// trackable reports whether obj can key the object map.
func trackable(obj any) bool {
	if obj == nil {
		return false
	}
	rt := reflect.TypeOf(obj)
	return rt.Kind() == reflect.Ptr && rt.Comparable()
}
