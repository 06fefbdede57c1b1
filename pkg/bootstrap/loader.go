package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const logPrefix = "bootstrap:loader"

// EnvRegistrationFile names the environment variable consulted for a registration file.
const EnvRegistrationFile = "REMOTING_REGISTRATION_FILE"

// LoadRegistrationConfig loads registration tables from file paths or environment.
// It tries paths in order: first any paths passed in, then REMOTING_REGISTRATION_FILE,
// then defaults. So an explicit path (e.g. from "seed my.json") is tried before the env var.
func LoadRegistrationConfig(paths ...string) (*RegistrationConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvRegistrationFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/registration.json", "registration.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg RegistrationConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse registration file %s: %v", logPrefix, p, err))
			continue
		}
		if err := Validate(&cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Ignoring invalid registration file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded registration config from %s", logPrefix, p))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default registration config (nothing remotely activatable)", logPrefix))
	return GetDefaultRegistrationConfig(), nil
}

// GetDefaultRegistrationConfig returns the fallback configuration: empty
// tables, so remote activation is denied for every type.
func GetDefaultRegistrationConfig() *RegistrationConfig {
	return &RegistrationConfig{
		Name:        "remoting-default",
		Version:     "1.0.0",
		Description: "Default registration: no activatable or published types",
	}
}

// Validate checks that every entry names what it needs.
func Validate(cfg *RegistrationConfig) error {
	for i, s := range cfg.ActivatedServices {
		if s.TypeName == "" {
			return fmt.Errorf("%s - activatedServices[%d]: typeName is required", logPrefix, i)
		}
	}
	for i, s := range cfg.WellKnownServices {
		if s.URI == "" || s.TypeName == "" {
			return fmt.Errorf("%s - wellKnownServices[%d]: uri and typeName are required", logPrefix, i)
		}
		if s.Mode != "Singleton" && s.Mode != "SingleCall" {
			return fmt.Errorf("%s - wellKnownServices[%d]: mode must be Singleton or SingleCall, got %q", logPrefix, i, s.Mode)
		}
	}
	for i, c := range cfg.ActivatedClients {
		if c.TypeName == "" || !strings.HasPrefix(c.URL, "rem://") {
			return fmt.Errorf("%s - activatedClients[%d]: typeName and a rem:// url are required", logPrefix, i)
		}
	}
	for i, c := range cfg.WellKnownClients {
		if c.TypeName == "" || !strings.HasPrefix(c.URL, "rem://") {
			return fmt.Errorf("%s - wellKnownClients[%d]: typeName and a rem:// url are required", logPrefix, i)
		}
	}
	for i, h := range cfg.RemoteHosts {
		if h.HostID == "" || h.CommsURL == "" {
			return fmt.Errorf("%s - remoteHosts[%d]: hostId and commsUrl are required", logPrefix, i)
		}
	}
	return nil
}

// MergeRegistrationConfigs merges override into base. Entries of override
// replace base entries with the same key (type name, or URI for well-known services).
func MergeRegistrationConfigs(base, override *RegistrationConfig) *RegistrationConfig {
	merged := *base
	merged.ActivatedServices = mergeBy(base.ActivatedServices, override.ActivatedServices, func(s ActivatedService) string { return s.TypeName })
	merged.WellKnownServices = mergeBy(base.WellKnownServices, override.WellKnownServices, func(s WellKnownService) string { return s.URI })
	merged.ActivatedClients = mergeBy(base.ActivatedClients, override.ActivatedClients, func(c ActivatedClient) string { return c.TypeName })
	merged.WellKnownClients = mergeBy(base.WellKnownClients, override.WellKnownClients, func(c WellKnownClient) string { return c.TypeName })
	merged.RemoteHosts = mergeBy(base.RemoteHosts, override.RemoteHosts, func(h RemoteHost) string { return h.HostID })
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	return &merged
}

func mergeBy[T any](base, override []T, key func(T) string) []T {
	out := make([]T, 0, len(base)+len(override))
	index := make(map[string]int, len(base)+len(override))
	for _, list := range [][]T{base, override} {
		for _, e := range list {
			k := key(e)
			if i, ok := index[k]; ok {
				out[i] = e
				continue
			}
			index[k] = len(out)
			out = append(out, e)
		}
	}
	return out
}
