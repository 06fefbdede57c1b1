package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/remoting/pkg/bootstrap"
)

const seedBootstrapLogPrefix = "db:seed_bootstrap"

// SeedRegistration loads a registration file and writes its tables to the
// database in one transaction. Idempotent: existing rows are updated in place.
func SeedRegistration(ctx context.Context, pool *pgxpool.Pool, registrationFilePath string) error {
	slog.Info(fmt.Sprintf("%s - seeding from %s", seedBootstrapLogPrefix, registrationFilePath))

	cfg, err := bootstrap.LoadRegistrationConfig(registrationFilePath)
	if err != nil {
		return fmt.Errorf("%s - load registration config: %w", seedBootstrapLogPrefix, err)
	}

	rows := registrationRows(cfg)
	if len(rows) == 0 && len(cfg.RemoteHosts) == 0 {
		slog.Info(fmt.Sprintf("%s - no registrations to seed", seedBootstrapLogPrefix))
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - begin tx: %w", seedBootstrapLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	for _, p := range rows {
		_, err := tx.Exec(ctx,
			`INSERT INTO registrations (kind, type_name, uri, mode, url, version_range)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (kind, type_name, uri) DO UPDATE SET
			   mode = EXCLUDED.mode,
			   url = EXCLUDED.url,
			   version_range = EXCLUDED.version_range,
			   modified = NOW()`,
			p.Kind, p.TypeName, p.URI, p.Mode, p.URL, p.VersionRange)
		if err != nil {
			return fmt.Errorf("%s - insert %s %s: %w", seedBootstrapLogPrefix, p.Kind, p.TypeName, err)
		}
	}
	for _, h := range cfg.RemoteHosts {
		_, err := tx.Exec(ctx,
			`INSERT INTO remote_hosts (host_id, comms_url)
			 VALUES ($1, $2)
			 ON CONFLICT (host_id) DO UPDATE SET comms_url = EXCLUDED.comms_url, modified = NOW()`,
			h.HostID, h.CommsURL)
		if err != nil {
			return fmt.Errorf("%s - insert remote host %s: %w", seedBootstrapLogPrefix, h.HostID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - commit: %w", seedBootstrapLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - seeded %d registrations and %d remote hosts", seedBootstrapLogPrefix, len(rows), len(cfg.RemoteHosts)))
	return nil
}

// registrationRows flattens a registration config into table rows.
func registrationRows(cfg *bootstrap.RegistrationConfig) []UpsertRegistrationParams {
	var rows []UpsertRegistrationParams
	for _, s := range cfg.ActivatedServices {
		rows = append(rows, UpsertRegistrationParams{Kind: KindActivatedService, TypeName: s.TypeName, VersionRange: ptr(s.VersionRange)})
	}
	for _, s := range cfg.WellKnownServices {
		rows = append(rows, UpsertRegistrationParams{Kind: KindWellKnownService, TypeName: s.TypeName, URI: s.URI, Mode: ptr(s.Mode)})
	}
	for _, c := range cfg.ActivatedClients {
		rows = append(rows, UpsertRegistrationParams{Kind: KindActivatedClient, TypeName: c.TypeName, URL: ptr(c.URL)})
	}
	for _, c := range cfg.WellKnownClients {
		rows = append(rows, UpsertRegistrationParams{Kind: KindWellKnownClient, TypeName: c.TypeName, URL: ptr(c.URL)})
	}
	return rows
}
