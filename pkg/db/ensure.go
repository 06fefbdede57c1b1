package db

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
)

const ensureLogPrefix = "db:ensure"

// maintenanceDB is the database EnsureDatabase connects to while creating the target.
const maintenanceDB = "postgres"

var safeDBName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// requiredExtensions are enabled in the target database after it exists.
var requiredExtensions = []string{"pgcrypto"}

// EnsureDatabase creates the database named in databaseURL when missing and enables
// the extensions the registration schema relies on. Run it before NewPool on a fresh
// server; it is idempotent.
func EnsureDatabase(ctx context.Context, databaseURL string) error {
	target, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	name := target.Database
	if name == "" || name == maintenanceDB {
		return fmt.Errorf("%s - database URL must name a database other than %q", ensureLogPrefix, maintenanceDB)
	}
	if !safeDBName.MatchString(name) {
		return fmt.Errorf("%s - database name %q contains invalid characters", ensureLogPrefix, name)
	}

	admin := target.Copy()
	admin.Database = maintenanceDB
	admin.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	if err := createIfMissing(ctx, admin, name); err != nil {
		return err
	}

	conn, err := pgx.ConnectConfig(ctx, target)
	if err != nil {
		return fmt.Errorf("%s - connect to %q: %w", ensureLogPrefix, name, err)
	}
	defer conn.Close(ctx)

	for _, ext := range requiredExtensions {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS "+quoteIdent(ext)); err != nil {
			return fmt.Errorf("%s - enable extension %s in %q: %w", ensureLogPrefix, ext, name, err)
		}
	}
	return nil
}

func createIfMissing(ctx context.Context, admin *pgx.ConnConfig, name string) error {
	conn, err := pgx.ConnectConfig(ctx, admin)
	if err != nil {
		return fmt.Errorf("%s - connect to %q: %w", ensureLogPrefix, maintenanceDB, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists); err != nil {
		return fmt.Errorf("%s - look up database %q: %w", ensureLogPrefix, name, err)
	}
	if exists {
		slog.Debug(fmt.Sprintf("%s - Database %q already exists", ensureLogPrefix, name))
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Creating database %q", ensureLogPrefix, name))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+quoteIdent(name)); err != nil {
		return fmt.Errorf("%s - create database %q: %w", ensureLogPrefix, name, err)
	}
	return nil
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
