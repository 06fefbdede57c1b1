package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/remoting/pkg/bootstrap"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for the registration tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ListRegistrations returns every registration, ordered by kind and type name.
func (r *Repository) ListRegistrations(ctx context.Context) ([]Registration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, type_name, uri, mode, url, version_range, created, modified
		 FROM registrations
		 ORDER BY kind ASC, type_name ASC, uri ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListRegistrations failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []Registration
	for rows.Next() {
		var e Registration
		if err := rows.Scan(&e.ID, &e.Kind, &e.TypeName, &e.URI, &e.Mode, &e.URL, &e.VersionRange, &e.Created, &e.Modified); err != nil {
			return nil, fmt.Errorf("%s - ListRegistrations scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - ListRegistrations rows failed: %w", repoLogPrefix, err)
	}
	return out, nil
}

// UpsertRegistration creates or updates a registration keyed by (kind, type name, uri).
func (r *Repository) UpsertRegistration(ctx context.Context, p UpsertRegistrationParams) (*Registration, error) {
	slog.Info(fmt.Sprintf("%s - UpsertRegistration kind=%s type=%s uri=%s", repoLogPrefix, p.Kind, p.TypeName, p.URI))

	var e Registration
	err := r.pool.QueryRow(ctx,
		`INSERT INTO registrations (kind, type_name, uri, mode, url, version_range)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (kind, type_name, uri) DO UPDATE SET
		   mode = EXCLUDED.mode,
		   url = EXCLUDED.url,
		   version_range = EXCLUDED.version_range,
		   modified = NOW()
		 RETURNING id, kind, type_name, uri, mode, url, version_range, created, modified`,
		p.Kind, p.TypeName, p.URI, p.Mode, p.URL, p.VersionRange,
	).Scan(&e.ID, &e.Kind, &e.TypeName, &e.URI, &e.Mode, &e.URL, &e.VersionRange, &e.Created, &e.Modified)
	if err != nil {
		return nil, fmt.Errorf("%s - UpsertRegistration failed: %w", repoLogPrefix, err)
	}
	return &e, nil
}

// DeleteRegistration removes one registration. It reports whether a row was deleted.
func (r *Repository) DeleteRegistration(ctx context.Context, kind, typeName, uri string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM registrations WHERE kind = $1 AND type_name = $2 AND uri = $3`, kind, typeName, uri)
	if err != nil {
		return false, fmt.Errorf("%s - DeleteRegistration failed: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected() > 0, nil
}

// LoadRegistrationConfig reads all registration tables into the registration file shape.
func (r *Repository) LoadRegistrationConfig(ctx context.Context) (*bootstrap.RegistrationConfig, error) {
	regs, err := r.ListRegistrations(ctx)
	if err != nil {
		return nil, err
	}
	hosts, err := r.ListRemoteHosts(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &bootstrap.RegistrationConfig{Name: "database", Version: "1.0.0"}
	for _, e := range regs {
		switch e.Kind {
		case KindActivatedService:
			cfg.ActivatedServices = append(cfg.ActivatedServices, bootstrap.ActivatedService{TypeName: e.TypeName, VersionRange: deref(e.VersionRange)})
		case KindWellKnownService:
			cfg.WellKnownServices = append(cfg.WellKnownServices, bootstrap.WellKnownService{URI: e.URI, TypeName: e.TypeName, Mode: deref(e.Mode)})
		case KindActivatedClient:
			cfg.ActivatedClients = append(cfg.ActivatedClients, bootstrap.ActivatedClient{TypeName: e.TypeName, URL: deref(e.URL)})
		case KindWellKnownClient:
			cfg.WellKnownClients = append(cfg.WellKnownClients, bootstrap.WellKnownClient{TypeName: e.TypeName, URL: deref(e.URL)})
		default:
			slog.Warn(fmt.Sprintf("%s - skipping registration %s with unknown kind %q", repoLogPrefix, e.ID, e.Kind))
		}
	}
	for _, h := range hosts {
		cfg.RemoteHosts = append(cfg.RemoteHosts, bootstrap.RemoteHost{HostID: h.HostID, CommsURL: h.CommsURL})
	}
	return cfg, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
