package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

const remoteHostsLogPrefix = "db:remote_hosts"

// GetRemoteHost retrieves a remote host by ID. It returns nil when absent.
func (r *Repository) GetRemoteHost(ctx context.Context, hostID string) (*RemoteHost, error) {
	slog.Debug(fmt.Sprintf("%s - GetRemoteHost host=%s", remoteHostsLogPrefix, hostID))

	var h RemoteHost
	err := r.pool.QueryRow(ctx,
		`SELECT host_id, comms_url, created, modified
		 FROM remote_hosts
		 WHERE host_id = $1
		 LIMIT 1`, hostID,
	).Scan(&h.HostID, &h.CommsURL, &h.Created, &h.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - GetRemoteHost failed: %w", remoteHostsLogPrefix, err)
	}
	return &h, nil
}

// ListRemoteHosts returns all remote hosts.
func (r *Repository) ListRemoteHosts(ctx context.Context) ([]RemoteHost, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT host_id, comms_url, created, modified
		 FROM remote_hosts
		 ORDER BY host_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListRemoteHosts failed: %w", remoteHostsLogPrefix, err)
	}
	defer rows.Close()

	var hosts []RemoteHost
	for rows.Next() {
		var h RemoteHost
		if err := rows.Scan(&h.HostID, &h.CommsURL, &h.Created, &h.Modified); err != nil {
			return nil, fmt.Errorf("%s - ListRemoteHosts scan failed: %w", remoteHostsLogPrefix, err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// UpsertRemoteHost creates or updates a remote host.
func (r *Repository) UpsertRemoteHost(ctx context.Context, hostID, commsURL string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO remote_hosts (host_id, comms_url)
		 VALUES ($1, $2)
		 ON CONFLICT (host_id) DO UPDATE SET comms_url = EXCLUDED.comms_url, modified = NOW()`,
		hostID, commsURL)
	if err != nil {
		return fmt.Errorf("%s - UpsertRemoteHost failed: %w", remoteHostsLogPrefix, err)
	}
	return nil
}
