package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/morezero/remoting/pkg/bootstrap"
	"github.com/morezero/remoting/pkg/db"
	"github.com/morezero/remoting/pkg/semver"
)

const logPrefix = "registry:registry"

// Params holds parameters for New.
type Params struct {
	// Repo is required when Source is SourceDB.
	Repo *db.Repository
	// Source selects where Load reads the tables from. Defaults to SourceFile.
	Source string
	// RegistrationFile is tried before the loader's default paths.
	RegistrationFile string
}

// Registry serves lock-free reads of the current registration snapshot.
type Registry struct {
	repo   *db.Repository
	source string
	file   string
	snap   atomic.Pointer[Snapshot]
	loaded atomic.Bool
}

// New creates a Registry holding empty tables until Load or Replace is called.
func New(p Params) *Registry {
	src := p.Source
	if src == "" {
		src = SourceFile
	}
	r := &Registry{repo: p.Repo, source: src, file: p.RegistrationFile}
	r.snap.Store(buildSnapshot(bootstrap.GetDefaultRegistrationConfig(), src))
	return r
}

// Load reads the tables from the configured source and publishes them.
func (r *Registry) Load(ctx context.Context) error {
	var (
		cfg *bootstrap.RegistrationConfig
		err error
	)
	switch r.source {
	case SourceDB:
		if r.repo == nil {
			return fmt.Errorf("%s - registration source %q needs a database", logPrefix, SourceDB)
		}
		cfg, err = r.repo.LoadRegistrationConfig(ctx)
	case SourceFile:
		cfg, err = bootstrap.LoadRegistrationConfig(r.file)
	default:
		return fmt.Errorf("%s - unknown registration source %q", logPrefix, r.source)
	}
	if err != nil {
		return fmt.Errorf("%s - failed to load registration tables: %w", logPrefix, err)
	}
	return r.Replace(cfg)
}

// Replace validates cfg and publishes it as the current snapshot.
func (r *Registry) Replace(cfg *bootstrap.RegistrationConfig) error {
	if cfg == nil {
		return fmt.Errorf("%s - nil registration config", logPrefix)
	}
	if err := bootstrap.Validate(cfg); err != nil {
		return err
	}
	s := buildSnapshot(cfg, r.source)
	r.snap.Store(s)
	r.loaded.Store(true)

	c := s.Counts()
	slog.Info(fmt.Sprintf("%s - Loaded registration %q from %s: activated=%d wellKnown=%d activatedClients=%d wellKnownClients=%d remoteHosts=%d",
		logPrefix, s.Name, s.Source, c.ActivatedServices, c.WellKnownServices, c.ActivatedClients, c.WellKnownClients, c.RemoteHosts))
	return nil
}

// Snapshot returns the current tables.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Loaded reports whether tables have been published since New.
func (r *Registry) Loaded() bool {
	return r.loaded.Load()
}

// Source returns the configured registration source.
func (r *Registry) Source() string {
	return r.source
}

// IsActivationAllowed reports whether typeRef ("pkg.Type" or "pkg.Type@1.2.0")
// is on the activated service allow-list. Anything not listed is denied.
func (r *Registry) IsActivationAllowed(typeRef string) bool {
	return r.snap.Load().IsActivationAllowed(typeRef)
}

// WellKnownClientURL returns the published object URL a client type connects to.
func (r *Registry) WellKnownClientURL(typeName string) (string, bool) {
	return r.snap.Load().WellKnownClientURL(typeName)
}

// ActivatedClientURL returns the URL of the host a client type is activated on.
func (r *Registry) ActivatedClientURL(typeName string) (string, bool) {
	return r.snap.Load().ActivatedClientURL(typeName)
}

// WellKnownServices returns the services this host publishes at startup.
func (r *Registry) WellKnownServices() []bootstrap.WellKnownService {
	return r.snap.Load().WellKnownServices()
}

// CommsURLFor returns the COMMS server of a host outside the local cluster.
func (r *Registry) CommsURLFor(hostID string) (string, bool) {
	return r.snap.Load().CommsURLFor(hostID)
}

func buildSnapshot(cfg *bootstrap.RegistrationConfig, source string) *Snapshot {
	s := &Snapshot{
		Name:             cfg.Name,
		Source:           source,
		LoadedAt:         time.Now().UTC(),
		activated:        make(map[string][]string, len(cfg.ActivatedServices)),
		activatedClients: make(map[string]string, len(cfg.ActivatedClients)),
		wellKnownClients: make(map[string]string, len(cfg.WellKnownClients)),
		remoteHosts:      make(map[string]string, len(cfg.RemoteHosts)),
	}
	for _, a := range cfg.ActivatedServices {
		name := baseName(a.TypeName)
		s.activated[name] = append(s.activated[name], strings.TrimSpace(a.VersionRange))
	}
	s.wellKnownServices = append(s.wellKnownServices, cfg.WellKnownServices...)
	for _, c := range cfg.ActivatedClients {
		s.activatedClients[baseName(c.TypeName)] = c.URL
	}
	for _, c := range cfg.WellKnownClients {
		s.wellKnownClients[baseName(c.TypeName)] = c.URL
	}
	for _, h := range cfg.RemoteHosts {
		s.remoteHosts[h.HostID] = h.CommsURL
	}
	return s
}

// IsActivationAllowed reports whether typeRef satisfies an allow-list entry.
func (s *Snapshot) IsActivationAllowed(typeRef string) bool {
	parsed, err := semver.ParseTypeRef(typeRef)
	if err != nil {
		return false
	}
	for _, rng := range s.activated[parsed.Full] {
		if semver.SatisfiesRange(parsed.Range, rng) {
			return true
		}
	}
	return false
}

func (s *Snapshot) WellKnownClientURL(typeName string) (string, bool) {
	url, ok := s.wellKnownClients[baseName(typeName)]
	return url, ok
}

func (s *Snapshot) ActivatedClientURL(typeName string) (string, bool) {
	url, ok := s.activatedClients[baseName(typeName)]
	return url, ok
}

func (s *Snapshot) WellKnownServices() []bootstrap.WellKnownService {
	out := make([]bootstrap.WellKnownService, len(s.wellKnownServices))
	copy(out, s.wellKnownServices)
	return out
}

func (s *Snapshot) CommsURLFor(hostID string) (string, bool) {
	url, ok := s.remoteHosts[hostID]
	return url, ok
}

// Counts returns the number of entries in each table.
func (s *Snapshot) Counts() Counts {
	n := 0
	for _, ranges := range s.activated {
		n += len(ranges)
	}
	return Counts{
		ActivatedServices: n,
		WellKnownServices: len(s.wellKnownServices),
		ActivatedClients:  len(s.activatedClients),
		WellKnownClients:  len(s.wellKnownClients),
		RemoteHosts:       len(s.remoteHosts),
	}
}

// baseName strips an "@version" suffix.
func baseName(ref string) string {
	ref = strings.TrimSpace(ref)
	if at := strings.IndexByte(ref, '@'); at >= 0 {
		return ref[:at]
	}
	return ref
}
