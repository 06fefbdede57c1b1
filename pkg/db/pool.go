// Package db stores the remoting registration tables in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// Pool sizing for a remoting host: registration reads are rare after startup.
const (
	maxConns        = 10
	minConns        = 1
	maxConnIdleTime = 5 * time.Minute
)

// migrationLockKey serializes RunMigrations across hosts sharing one database.
const migrationLockKey int64 = 0x72656d6f74696e67

// schemaTables are the tables the migrations create.
var schemaTables = []string{"registrations", "remote_hosts"}

// NewPool opens a pgx pool for databaseURL and pings it before returning.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = maxConns
	config.MinConns = minConns
	config.MaxConnIdleTime = maxConnIdleTime

	slog.Info(fmt.Sprintf("%s - Connecting to database %q on %s", logPrefix, config.ConnConfig.Database, config.ConnConfig.Host))
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}
	return pool, nil
}

// RunMigrations applies migrations in order, each in its own transaction, while holding
// an advisory lock so two hosts starting together do not interleave. Every migration is
// written to be idempotent.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%s - acquire connection: %w", logPrefix, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("%s - take migration lock: %w", logPrefix, err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			slog.Warn(fmt.Sprintf("%s - release migration lock: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrations)))
	for _, m := range migrations {
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, m.SQL)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		slog.Debug(fmt.Sprintf("%s - Applied %s", logPrefix, m.Name))
	}
	return nil
}

// MigrationStatus prints which schema tables exist and the migration files found in migrationPath.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) error {
	const statusLogPrefix = "db:MigrationStatus"

	rows, err := pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ANY($1)`, schemaTables)
	if err != nil {
		return fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}
	present, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("%s - failed to read schema: %w", statusLogPrefix, err)
	}

	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}

	switch len(present) {
	case len(schemaTables):
		fmt.Printf("Migration status: applied (%d migration files in %s)\n", len(files), migrationPath)
	case 0:
		fmt.Printf("Migration status: not applied (run 'remoting-host migrate up'). %d migration files in %s\n", len(files), migrationPath)
	default:
		fmt.Printf("Migration status: partial, found tables %v of %v. %d migration files in %s\n", present, schemaTables, len(files), migrationPath)
	}
	for _, m := range files {
		fmt.Printf("  %s\n", m.Name)
	}
	return nil
}

// MigrationDown is a no-op: migrations are forward-only.
func MigrationDown(ctx context.Context, pool *pgxpool.Pool, _ string) error {
	fmt.Println("Migration down: not supported (migrations are forward-only). Use a database backup to roll back.")
	return nil
}
