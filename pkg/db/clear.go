package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearRegistrations truncates the registration tables. Schema is preserved;
// only data is removed.
func ClearRegistrations(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing registration tables", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE registrations, remote_hosts CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Registration tables cleared", clearLogPrefix))
	return nil
}
